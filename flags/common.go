package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// CommonFlags returns the ambient flags shared across commands.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "log.format",
			Usage: "Log output format (text|json)",
			Value: "text",
		},
		cli.IntFlag{
			Name:  "log.verbosity",
			Usage: "Logging verbosity (0=fatal,1=error,2=warn,3=info,4=debug,5=trace)",
			Value: 3,
		},
		cli.BoolFlag{
			Name:  "log.color",
			Usage: "Enable colored log output",
		},
		cli.StringFlag{
			Name:  "sentry.dsn",
			Usage: "Report errors to the Sentry project at this DSN",
		},
		cli.BoolFlag{
			Name:  "metrics",
			Usage: "Collect pipeline counters and print them when the run ends",
		},
		cli.DurationFlag{
			Name:  "metrics.interval",
			Usage: "Aggregation interval of the collected counters",
			Value: 10 * time.Second,
		},
	}
}
