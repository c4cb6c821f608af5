package cmd

import (
	"fmt"
	"os"

	"github.com/CloudNativeWorks/volzip/internal/archive"
	"github.com/CloudNativeWorks/volzip/internal/config"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	Cfg      *config.Config
	Version  string
)

var RootCmd = &cobra.Command{
	Use:   "volzip",
	Short: "volzip - split-volume zip archiver",
	Long: `volzip packs a file or directory into a zip archive, optionally AES-256
encrypted, and splits it into fixed-size volumes (name.z01, name.z02, ...,
name.zip). It can also keep itself up to date from a release feed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

// Process exit statuses returned by ExitCode.
const (
	ExitFailure  = 1
	ExitBadInput = 2
)

// ExitCode maps an error returned by Execute to a process exit status:
// ExitBadInput when the job was rejected because of its input, ExitFailure
// for everything that went wrong while running.
func ExitCode(err error) int {
	if archive.IsUserError(err) {
		return ExitBadInput
	}
	return ExitFailure
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./volzip.yaml or $HOME/.volzip/volzip.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config file)")
}

func initConfig() {
	var err error

	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		Cfg.Logging.Level = logLevel
	}

	if err := logger.Init(Cfg.LoggerConfig("root")); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Logger could not be initialized: %v\n", err)
		os.Exit(1)
	}
}
