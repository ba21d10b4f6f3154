package launcher

import "time"

// Defaults bundles the values a run uses before flags override the ambient
// ones. The run parameters are fixed at build time.
type Defaults struct {
	Run     RunDefaults
	Logging LoggingDefaults
	Metrics MetricsDefaults
	Dial    DialDefaults
}

// RunDefaults are the parameters of the transaction a run submits.
type RunDefaults struct {
	NodeURL string //	Websocket JSON-RPC endpoint of the node.
	SeedHex string //	Hex seed of the wallet that pays, funds the fees and deploys.
	// DestinationHex is the hex seed of the payment recipient. The default
	// pays the wallet itself.
	DestinationHex string
	TokenHex       string //	Hex token type of the payment. The default is the native shielded token.
	Amount         uint64 //	Payment amount in the smallest unit.
	MockFees       bool   //	Estimate fees on mock-proven drafts before the real proving pass.
}

// LoggingDefaults controls log verbosity/format.
type LoggingDefaults struct {
	Verbosity int    //	Log level numeric (0=fatal, 1=error, 2=warn, 3=info, 4=debug, 5=trace).
	Format    string //	Log output format (text vs json).
	Color     bool   //	Whether to use ANSI color codes in logs.
}

type MetricsDefaults struct {
	Enable   bool          //	Collect counters in memory and print them when the run ends.
	Interval time.Duration //	Aggregation interval of the in-memory sink.
}

type DialDefaults struct {
	// Timeout bounds connecting to the node only. Replay and the
	// finality wait run without a deadline.
	Timeout time.Duration
}

// DefaultConfig returns a fully populated Defaults instance.
func DefaultConfig() Defaults {
	return Defaults{
		Run: RunDefaults{
			NodeURL:        "ws://localhost:9944",
			SeedHex:        "0000000000000000000000000000000000000000000000000000000000000001",
			DestinationHex: "0000000000000000000000000000000000000000000000000000000000000001",
			TokenHex:       "0000000000000000000000000000000000000000000000000000000000000002",
			Amount:         1_000_000_000,
			MockFees:       true,
		},
		Logging: LoggingDefaults{
			Verbosity: 3,
			Format:    "text",
			Color:     true,
		},
		Metrics: MetricsDefaults{
			Enable:   false,
			Interval: 10 * time.Second,
		},
		Dial: DialDefaults{
			Timeout: 30 * time.Second,
		},
	}
}
