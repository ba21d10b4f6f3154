package launcher

import (
	"io"
	"testing"
	"time"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/ledger-txbuilder/flags"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
)

// runConfigFromArgs runs MakeAllConfigs with a synthetic CLI context.
func runConfigFromArgs(t *testing.T, args []string) (Config, error) {
	t.Helper()

	app := cli.NewApp()
	app.HideHelp = true
	app.HideVersion = true
	app.Flags = flags.Flags()

	var (
		got    Config
		cfgErr error
	)
	app.Action = func(c *cli.Context) error {
		got, cfgErr = MakeAllConfigs(c)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"txbuilder"}, args...)))
	return got, cfgErr
}

func TestMakeAllConfigs_defaults(t *testing.T) {
	t.Setenv("TXBUILDER_STATIC_DIR", "")
	cfg, err := runConfigFromArgs(t, nil)
	require.NoError(t, err)

	require.Equal(t, "ws://localhost:9944", cfg.Node.URL)
	require.False(t, cfg.Node.FakeNet)
	require.Equal(t, 30*time.Second, cfg.Node.DialTimeout)

	require.Equal(t, ledgercore.Seed{31: 1}, cfg.Run.Seed)
	require.Equal(t, cfg.Run.Seed, cfg.Run.Destination)
	require.Equal(t, ledgercore.TokenType{31: 2}, cfg.Run.Token)
	require.Equal(t, uint64(1_000_000_000), cfg.Run.Amount.Uint64())
	require.True(t, cfg.Run.MockFees)
	require.Nil(t, cfg.Run.RNGSeed)
	require.Empty(t, cfg.Run.StaticDir)

	require.Equal(t, 3, cfg.Logging.Verbosity)
	require.Equal(t, "text", cfg.Logging.Format)
	require.False(t, cfg.Metrics.Enable)
	require.Empty(t, cfg.Sentry.DSN)
}

func TestMakeAllConfigs_flagOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want func(t *testing.T, cfg Config)
	}{
		{
			name: "logging",
			args: []string{"--log.format", "JSON", "--log.verbosity", "5", "--log.color"},
			want: func(t *testing.T, cfg Config) {
				require.Equal(t, "json", cfg.Logging.Format)
				require.Equal(t, 5, cfg.Logging.Verbosity)
				require.True(t, cfg.Logging.Color)
			},
		},
		{
			name: "metrics and sentry",
			args: []string{"--metrics", "--metrics.interval", "1s", "--sentry.dsn", "https://key@sentry.example/1"},
			want: func(t *testing.T, cfg Config) {
				require.True(t, cfg.Metrics.Enable)
				require.Equal(t, time.Second, cfg.Metrics.Interval)
				require.Equal(t, "https://key@sentry.example/1", cfg.Sentry.DSN)
			},
		},
		{
			name: "network",
			args: []string{"--fakenet", "--dial.timeout", "5s"},
			want: func(t *testing.T, cfg Config) {
				require.True(t, cfg.Node.FakeNet)
				require.Equal(t, 5*time.Second, cfg.Node.DialTimeout)
			},
		},
		{
			name: "transaction",
			args: []string{"--fees.mock=false", "--rng.seed", "ab"},
			want: func(t *testing.T, cfg Config) {
				require.False(t, cfg.Run.MockFees)
				require.NotNil(t, cfg.Run.RNGSeed)
				require.Equal(t, hash.BytesToHash([]byte{0xab}), *cfg.Run.RNGSeed)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := runConfigFromArgs(t, test.args)
			require.NoError(t, err)
			test.want(t, cfg)
		})
	}
}

func TestMakeAllConfigs_afterCommand(t *testing.T) {
	t.Setenv("TXBUILDER_STATIC_DIR", "")
	app := cli.NewApp()
	app.HideHelp = true
	app.Flags = flags.Flags()

	var (
		got    Config
		cfgErr error
	)
	app.Commands = []cli.Command{{
		Name:  "transfer",
		Flags: flags.Flags(),
		Action: func(c *cli.Context) error {
			got, cfgErr = MakeAllConfigs(c)
			return nil
		},
	}}
	require.NoError(t, app.Run([]string{"txbuilder", "--log.verbosity", "1", "--dial.timeout", "2s",
		"transfer", "--fakenet", "--fees.mock=false", "--log.verbosity", "4"}))
	require.NoError(t, cfgErr)

	require.True(t, got.Node.FakeNet)
	require.False(t, got.Run.MockFees)
	require.Equal(t, 4, got.Logging.Verbosity)
	require.Equal(t, 2*time.Second, got.Node.DialTimeout)
}

func TestMakeAllConfigs_env(t *testing.T) {
	t.Setenv("TXBUILDER_STATIC_DIR", "/opt/artifacts")
	cfg, err := runConfigFromArgs(t, nil)
	require.NoError(t, err)
	require.Equal(t, "/opt/artifacts", cfg.Run.StaticDir)
}

func TestMakeAllConfigs_badRNGSeed(t *testing.T) {
	_, err := runConfigFromArgs(t, []string{"--rng.seed", "xyz"})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	require.Equal(t, logrus.FatalLevel, verbosity(0))
	require.Equal(t, logrus.InfoLevel, verbosity(3))
	require.Equal(t, logrus.TraceLevel, verbosity(5))
	require.Equal(t, logrus.TraceLevel, verbosity(9))
	require.Equal(t, logrus.FatalLevel, verbosity(-1))

	log, err := NewLogger(LoggingConfig{Verbosity: 4, Format: "json"}, SentryConfig{}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger(LoggingConfig{Format: "xml"}, SentryConfig{}, io.Discard)
	require.Error(t, err)
}
