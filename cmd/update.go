package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CloudNativeWorks/volzip/internal/cmdrunner"
	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/CloudNativeWorks/volzip/internal/selfupdate"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/CloudNativeWorks/volzip/pkg/tools"
	"github.com/spf13/cobra"
)

var updateOutput string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and install new volzip releases",
}

var updateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a newer release is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker, err := newChecker()
		if err != nil {
			return err
		}
		res, err := checker.Check(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if updateOutput == "yaml" {
			return tools.WriteYAML(out, struct {
				UpdateAvailable bool `yaml:"update_available"`
				selfupdate.CheckResult `yaml:",inline"`
			}{res.UpdateAvailable(), res})
		}
		if res.UpdateAvailable() {
			fmt.Fprintf(out, "volzip %s is available (running %s)\n", res.Release.Version, res.CurrentVersion)
			return nil
		}
		fmt.Fprintf(out, "volzip %s is up to date\n", res.CurrentVersion)
		return nil
	},
}

var updateApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Download and install the latest release, then restart",
	Long: `Download the latest release and stage it. volzip then exits and a small
script replaces the executable, keeping a .bak copy until the new one is in
place, and starts the new version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("update")

		updater, err := newUpdater("version")
		if err != nil {
			return err
		}

		term := progress.NewTerminal(cmd.ErrOrStderr())
		res := <-updater.Start(cmd.Context(), func(percent int) {
			term.OnProgress(float64(percent))
		})
		term.Finish()

		if res.Err != nil {
			return res.Err
		}
		if !res.Installed() {
			fmt.Fprintf(cmd.OutOrStdout(), "volzip %s is up to date\n", res.Check.CurrentVersion)
			return nil
		}

		if err := updater.Handoff(cmd.Context(), res.Staged); err != nil {
			return err
		}
		log.Infof("volzip %s staged, replacing %s", res.Check.Release.Version, res.Staged.Target)
		fmt.Fprintf(cmd.OutOrStdout(), "volzip %s will be installed once this process exits\n", res.Check.Release.Version)
		return nil
	},
}

var updateWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep running and install new releases as they appear",
	Long: `Poll the release feed every update.poll_interval. When a newer release is
found it is installed and volzip restarts with the same arguments. Stops on
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return NewWatchManager(logger.NewLogger("watch")).Run()
	},
}

func init() {
	updateCmd.PersistentFlags().StringVar(&updateOutput, "output", "text", "result format: text or yaml")
	updateCmd.AddCommand(updateCheckCmd, updateApplyCmd, updateWatchCmd)
	RootCmd.AddCommand(updateCmd)
}

// WatchManager runs the poller until a signal arrives or an update has
// been handed off.
type WatchManager struct {
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

func NewWatchManager(log *logger.Logger) *WatchManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &WatchManager{
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}
}

func (m *WatchManager) Run() error {
	checker, err := newChecker()
	if err != nil {
		return err
	}
	updater, err := newUpdater(os.Args[1:]...)
	if err != nil {
		return err
	}

	signal.Notify(m.sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer m.cleanup()
	go m.handleSignals()

	m.logger.Infof("Watching %s every %s", Cfg.Update.FeedURL, Cfg.Update.PollInterval)

	var handoffErr error
	poller := selfupdate.NewPoller(checker.Check, Cfg.Update.PollInterval)
	err = poller.Run(m.ctx, func(selfupdate.CheckResult) bool {
		res := updater.Run(m.ctx, nil)
		if res.Err != nil {
			m.logger.WithError(res.Err).Warn("Update failed, will retry on next poll")
			return false
		}
		if !res.Installed() {
			return false
		}
		handoffErr = updater.Handoff(m.ctx, res.Staged)
		return handoffErr == nil
	})
	if handoffErr != nil {
		return handoffErr
	}
	if err != nil && m.ctx.Err() == nil {
		return err
	}
	return nil
}

func (m *WatchManager) cleanup() {
	signal.Stop(m.sigChan)
	close(m.sigChan)
	m.cancel()
	m.logger.Info("Watch stopped")
}

func (m *WatchManager) handleSignals() {
	for {
		select {
		case sig, ok := <-m.sigChan:
			if !ok {
				return
			}
			m.logger.Warnf("Received signal %s, shutting down...", sig)
			m.cancel()
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func newChecker() (*selfupdate.Checker, error) {
	cmp, err := selfupdate.ComparatorFor(Cfg.Update.VersionCompare)
	if err != nil {
		return nil, err
	}
	return selfupdate.NewChecker(Cfg.Update.FeedURL, Version,
		selfupdate.WithCheckTimeout(Cfg.Update.CheckTimeout),
		selfupdate.WithComparator(cmp),
		selfupdate.WithAssetExtension(Cfg.Update.AssetExtension),
	), nil
}

// newUpdater wires the pipeline from configuration. relaunchArgs are passed
// to the new executable after it replaced the running one.
func newUpdater(relaunchArgs ...string) (*selfupdate.Updater, error) {
	checker, err := newChecker()
	if err != nil {
		return nil, err
	}
	downloader := selfupdate.NewDownloader(Cfg.Update.DownloadTimeout,
		selfupdate.WithChunkSize(Cfg.Update.ChunkSize),
		selfupdate.WithDownloadUserAgent("volzip/"+Version),
	)
	installer := selfupdate.NewInstaller(Cfg.Update.ExecutableName, cmdrunner.NewCommandsRunner(),
		selfupdate.WithGracePeriod(Cfg.Update.GracePeriod),
		selfupdate.WithRelaunchArgs(relaunchArgs...),
	)
	return selfupdate.NewUpdater(checker, downloader, installer, ""), nil
}
