package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// NetworkFlags covers how the node is reached.
func NetworkFlags() []cli.Flag {
	return []cli.Flag{
		cli.BoolFlag{
			Name:  "fakenet",
			Usage: "Run against an in-memory undeployed network funding the configured seed instead of the node",
		},
		cli.DurationFlag{
			Name:  "dial.timeout",
			Usage: "Timeout for connecting to the node (the run itself has none)",
			Value: 30 * time.Second,
		},
	}
}

// TxFlags tunes how the transaction is built.
func TxFlags() []cli.Flag {
	return []cli.Flag{
		cli.BoolTFlag{
			Name:  "fees.mock",
			Usage: "Estimate fees with mock proofs before the real proving pass (--fees.mock=false proves every estimate)",
		},
		cli.StringFlag{
			Name:  "rng.seed",
			Usage: "Hex seed the transaction nonces derive from (random when unset)",
		},
	}
}
