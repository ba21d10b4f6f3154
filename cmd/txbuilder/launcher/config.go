// This file maps the CLI context and the environment to the run config.

package launcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/Fantom-foundation/lachesis-base/hash"
	jlconfig "github.com/JeremyLoy/config"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/ledger-txbuilder/integration"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
)

// Config aggregates everything a run needs.
type Config struct {
	Node    NodeConfig
	Run     integration.Config
	Logging LoggingConfig
	Metrics MetricsConfig
	Sentry  SentryConfig
}

type NodeConfig struct {
	URL         string
	FakeNet     bool
	DialTimeout time.Duration
}

type LoggingConfig struct {
	Verbosity int
	Format    string
	Color     bool
}

type MetricsConfig struct {
	Enable   bool
	Interval time.Duration
}

type SentryConfig struct {
	DSN string
}

// EnvConfig is read from the environment.
type EnvConfig struct {
	// StaticDir holds precomputed contract artifacts.
	StaticDir string `config:"TXBUILDER_STATIC_DIR"`
}

// LoadEnv reads EnvConfig from the environment.
func LoadEnv() (EnvConfig, error) {
	var env EnvConfig
	err := jlconfig.FromEnv().To(&env)
	return env, err
}

func defaultConfig() (Config, error) {
	d := DefaultConfig()
	cfg := Config{
		Node: NodeConfig{
			URL:         d.Run.NodeURL,
			DialTimeout: d.Dial.Timeout,
		},
		Logging: LoggingConfig{
			Verbosity: d.Logging.Verbosity,
			Format:    d.Logging.Format,
			Color:     d.Logging.Color,
		},
		Metrics: MetricsConfig{
			Enable:   d.Metrics.Enable,
			Interval: d.Metrics.Interval,
		},
	}

	var err error
	if cfg.Run.Seed, err = ledgercore.ParseSeed(d.Run.SeedHex); err != nil {
		return cfg, fmt.Errorf("seed: %w", err)
	}
	if cfg.Run.Destination, err = ledgercore.ParseSeed(d.Run.DestinationHex); err != nil {
		return cfg, fmt.Errorf("destination: %w", err)
	}
	if cfg.Run.Token, err = ledgercore.ParseTokenType(d.Run.TokenHex); err != nil {
		return cfg, fmt.Errorf("token type: %w", err)
	}
	cfg.Run.Amount = uint256.NewInt(d.Run.Amount)
	cfg.Run.MockFees = d.Run.MockFees
	return cfg, nil
}

// MakeAllConfigs merges defaults, the environment, then CLI flag overrides.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return cfg, err
	}

	env, err := LoadEnv()
	if err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	cfg.Run.StaticDir = env.StaticDir

	if err := applyCLIOverrides(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// flagSource reads a flag from the command context first, then from the
// global one.
type flagSource struct {
	ctx *cli.Context
}

func (f flagSource) isSet(name string) bool {
	return f.ctx.IsSet(name) || f.ctx.GlobalIsSet(name)
}

func (f flagSource) local(name string) bool {
	return f.ctx.IsSet(name)
}

func (f flagSource) string(name string) string {
	if f.local(name) {
		return f.ctx.String(name)
	}
	return f.ctx.GlobalString(name)
}

func (f flagSource) int(name string) int {
	if f.local(name) {
		return f.ctx.Int(name)
	}
	return f.ctx.GlobalInt(name)
}

func (f flagSource) bool(name string) bool {
	if f.local(name) {
		return f.ctx.Bool(name)
	}
	return f.ctx.GlobalBool(name)
}

func (f flagSource) boolT(name string) bool {
	if f.local(name) {
		return f.ctx.BoolT(name)
	}
	return f.ctx.GlobalBoolT(name)
}

func (f flagSource) duration(name string) time.Duration {
	if f.local(name) {
		return f.ctx.Duration(name)
	}
	return f.ctx.GlobalDuration(name)
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) error {
	f := flagSource{ctx}
	if f.isSet("log.format") {
		cfg.Logging.Format = strings.ToLower(f.string("log.format"))
	}
	if f.isSet("log.verbosity") {
		cfg.Logging.Verbosity = f.int("log.verbosity")
	}
	if f.isSet("log.color") {
		cfg.Logging.Color = f.bool("log.color")
	}
	if f.isSet("sentry.dsn") {
		cfg.Sentry.DSN = f.string("sentry.dsn")
	}

	if f.isSet("metrics") {
		cfg.Metrics.Enable = f.bool("metrics")
	}
	if f.isSet("metrics.interval") {
		cfg.Metrics.Interval = f.duration("metrics.interval")
	}

	if f.isSet("fakenet") {
		cfg.Node.FakeNet = f.bool("fakenet")
	}
	if f.isSet("dial.timeout") {
		cfg.Node.DialTimeout = f.duration("dial.timeout")
	}

	if f.isSet("fees.mock") {
		cfg.Run.MockFees = f.boolT("fees.mock")
	}
	if f.isSet("rng.seed") {
		raw, err := hexutil.Decode(ensure0x(f.string("rng.seed")))
		if err != nil {
			return fmt.Errorf("rng.seed: %w", err)
		}
		seed := hash.BytesToHash(raw)
		cfg.Run.RNGSeed = &seed
	}
	return nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
