package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/CloudNativeWorks/volzip/internal/archive"
	"github.com/CloudNativeWorks/volzip/internal/config"
	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/CloudNativeWorks/volzip/internal/selfupdate"
	"github.com/CloudNativeWorks/volzip/pkg/helper"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/CloudNativeWorks/volzip/pkg/tools"
	"github.com/spf13/cobra"
)

var compressFlags struct {
	outputDir  string
	volumeSize string
	password   string
	exclude    []string
	level      int
	output     string
	quiet      bool
}

var compressCmd = &cobra.Command{
	Use:   "compress SOURCE",
	Short: "Compress a file or directory into split zip volumes",
	Long: `Compress SOURCE into <name>.zip in the output directory. When the archive
is larger than the volume size it is split into <name>.z01, <name>.z02, ...
with <name>.zip holding the last part; joining them in that order gives the
complete archive.`,
	Example: `  volzip compress ./photos -s 700MB
  volzip compress report.pdf -d /mnt/usb -p secret --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCompress,
}

func init() {
	f := compressCmd.Flags()
	f.StringVarP(&compressFlags.outputDir, "output-dir", "d", "", "directory for the volumes (default: next to SOURCE)")
	f.StringVarP(&compressFlags.volumeSize, "size", "s", "", "volume size, e.g. 100MB or 1GiB (default from config)")
	f.StringVarP(&compressFlags.password, "password", "p", "", "encrypt every entry with AES-256 using this password")
	f.StringArrayVar(&compressFlags.exclude, "exclude", nil, "glob of archive names to skip, may be repeated (e.g. '**/*.log')")
	f.IntVar(&compressFlags.level, "level", archive.DefaultCompressionLevel, "deflate level, -2 (huffman only) to 9")
	f.StringVar(&compressFlags.output, "output", "text", "result format: text or yaml")
	f.BoolVarP(&compressFlags.quiet, "quiet", "q", false, "do not draw the progress bar")
	RootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
	log := logger.NewLogger("compress")

	if compressFlags.output != "text" && compressFlags.output != "yaml" {
		return fmt.Errorf("%w: unknown output format %q", archive.ErrInvalidJob, compressFlags.output)
	}

	job, err := jobFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	updates := backgroundUpdateCheck(cmd.Context())

	var rep progress.Reporter = progress.Funcs{
		Item: func(name string) { log.Debugf("adding %s", name) },
	}
	var term *progress.Terminal
	if compressFlags.output == "text" && !compressFlags.quiet {
		term = progress.NewTerminal(cmd.ErrOrStderr())
		rep = progress.Multi{term, rep}
	}

	log.WithFields(logger.Fields{
		"job":    job.ID,
		"source": job.SourcePath,
		"output": job.OutputDir,
	}).Info("compression started")

	outcome := <-archive.NewEngine().Start(job, rep)
	if term != nil {
		term.Finish()
	}

	if err := printOutcome(cmd.OutOrStdout(), outcome); err != nil {
		return err
	}
	reportUpdate(updates, log)

	if !outcome.Success {
		return outcome.Err
	}
	return nil
}

func jobFromFlags(cmd *cobra.Command, source string) (*archive.Job, error) {
	sizeText := Cfg.Archive.VolumeSize
	if cmd.Flags().Changed("size") {
		sizeText = compressFlags.volumeSize
	}
	size, err := config.ParseVolumeSize(sizeText)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", archive.ErrInvalidJob, err)
	}

	level := Cfg.Archive.CompressionLevel
	if cmd.Flags().Changed("level") {
		level = compressFlags.level
	}

	outDir := Cfg.Archive.OutputDir
	if compressFlags.outputDir != "" {
		outDir = compressFlags.outputDir
	}

	exclude := append(append([]string{}, Cfg.Archive.Exclude...), compressFlags.exclude...)

	return archive.NewJob(source, outDir, size,
		archive.WithPassword(compressFlags.password),
		archive.WithCompressionLevel(level),
		archive.WithExclude(exclude...),
	)
}

func printOutcome(w io.Writer, outcome archive.Outcome) error {
	if compressFlags.output == "yaml" {
		return tools.WriteYAML(w, outcome)
	}

	// Failures surface through the returned error.
	if !outcome.Success {
		return nil
	}
	fmt.Fprintln(w, outcome.Message)
	if len(outcome.Volumes) > 1 {
		for _, v := range outcome.Volumes {
			fmt.Fprintf(w, "  %s  %s\n", v, tools.FileSize(v))
		}
	}
	return nil
}

// backgroundUpdateCheck starts a feed check that never delays or fails the
// command it runs alongside.
func backgroundUpdateCheck(ctx context.Context) <-chan selfupdate.CheckResult {
	ch := make(chan selfupdate.CheckResult, 1)
	if !Cfg.Update.CheckOnStart {
		close(ch)
		return ch
	}

	checker, err := newChecker()
	if err != nil {
		logger.NewLogger("update").WithError(err).Warn("update check disabled")
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		defer helper.RecoverPanic(logger.NewLogger("update"), "update-check")
		if ctx == nil {
			ctx = context.Background()
		}
		res, err := checker.Check(ctx)
		if err != nil {
			logger.NewLogger("update").WithError(err).Warn("background update check failed")
			return
		}
		ch <- res
	}()
	return ch
}

func reportUpdate(updates <-chan selfupdate.CheckResult, log *logger.Logger) {
	select {
	case res, ok := <-updates:
		if ok && res.UpdateAvailable() {
			log.Infof("volzip %s is available (running %s); run 'volzip update apply' to install it",
				res.Release.Version, strings.TrimSpace(res.CurrentVersion))
		}
	default:
	}
}
