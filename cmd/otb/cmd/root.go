package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
)

var (
	// Global flags
	verbose bool
	cfgFile string

	// Built by the root pre-run for every command.
	logger  *zap.Logger
	options *session.Options
)

// flagKeys maps persistent flags to session option keys.
var flagKeys = map[string]string{
	"target":               session.OptTargetOverride,
	"pack":                 session.OptPack,
	"pack-cache-dir":       session.OptPackCacheDir,
	"test-binary":          session.OptTestBinary,
	"resume-on-disconnect": session.OptResumeOnDisconnect,
	"frequency":            session.OptFrequency,
	"chain-length":         session.OptChainLength,
}

var rootCmd = &cobra.Command{
	Use:   "otb",
	Short: "Board-level target selection and connection",
	Long: `Resolve a target type from built-in definitions, explicit packs or the
managed pack cache, then connect to it through a debug probe.

Options are read from flags, OTB_* environment variables and an optional
config file, in that order of precedence.

Examples:
  otb list --targets                                 # Built-in, pack and cached targets
  otb connect --adapter simulator                    # Generic cortex_m on the simulator
  otb connect -t nrf52 --pack packs/nrf52.bsd        # Target from an explicit pack
  otb pack show packs/                               # Definitions in a pack directory`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	pf.StringP("target", "t", "", "target type (default cortex_m)")
	pf.StringSlice("pack", nil, "pack file or directory (repeatable)")
	pf.String("pack-cache-dir", "", "managed pack cache directory")
	pf.String("test-binary", "", "path of the board test binary")
	pf.Bool("resume-on-disconnect", true, "let the target run after disconnect")
	pf.Int("frequency", 0, "TCK frequency in Hz (0 keeps the probe default)")
	pf.Int("chain-length", 1, "number of devices on the JTAG chain")
}

func setup(cmd *cobra.Command, _ []string) error {
	l, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger = l

	v := viper.New()
	v.SetEnvPrefix("otb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Debug("loaded config", zap.String("file", v.ConfigFileUsed()))
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}
	options = session.FromViper(v)
	return nil
}

// newLogger writes human-readable logs to stderr. Verbose output includes
// debug messages and caller information.
func newLogger(verbose bool) (*zap.Logger, error) {
	return loggerConfig(verbose).Build()
}

// loggerConfig disables stack traces in both modes.
func loggerConfig(verbose bool) zap.Config {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.DisableStacktrace = true
	return cfg
}
