package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/CloudNativeWorks/volzip/pkg/helper"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/google/uuid"
)

const (
	// ContainerSuffix marks the unsplit container while it is being written.
	ContainerSuffix = ".temp"

	// DefaultCompressionLevel matches flate.DefaultCompression's ratio.
	DefaultCompressionLevel = 6
)

// Job describes one archive run. It is immutable once created.
type Job struct {
	ID               string
	SourcePath       string
	OutputDir        string
	VolumeSize       uint64
	Password         string
	CompressionLevel int
	Exclude          []string
}

// JobOption configures a Job during construction.
type JobOption func(*Job)

// WithPassword enables AES encryption of every entry.
func WithPassword(password string) JobOption {
	return func(j *Job) {
		j.Password = password
	}
}

// WithCompressionLevel sets the deflate level (-2..9) for unencrypted runs.
func WithCompressionLevel(level int) JobOption {
	return func(j *Job) {
		j.CompressionLevel = level
	}
}

// WithExclude skips files whose archive name matches any of the globs.
func WithExclude(patterns ...string) JobOption {
	return func(j *Job) {
		j.Exclude = append([]string(nil), patterns...)
	}
}

// NewJob validates its inputs and returns a job with a fresh ID. The
// output directory must exist and be writable.
func NewJob(sourcePath, outputDir string, volumeSize uint64, opts ...JobOption) (*Job, error) {
	if volumeSize == 0 {
		return nil, fmt.Errorf("%w: volume size must be positive", ErrInvalidJob)
	}
	if sourcePath == "" {
		return nil, fmt.Errorf("%w: source path is required", ErrInvalidJob)
	}

	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, src)
	}
	if base := filepath.Base(src); base == string(filepath.Separator) || base == "." {
		return nil, fmt.Errorf("%w: cannot derive an archive name from %s", ErrInvalidJob, src)
	}

	if outputDir == "" {
		outputDir = filepath.Dir(src)
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("%w: output directory: %v", ErrInvalidJob, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: output %s is not a directory", ErrInvalidJob, out)
	}
	if err := checkWritable(out); err != nil {
		return nil, fmt.Errorf("%w: output directory %s is not writable: %v", ErrInvalidJob, out, err)
	}

	job := &Job{
		ID:               uuid.New().String(),
		SourcePath:       src,
		OutputDir:        out,
		VolumeSize:       volumeSize,
		CompressionLevel: DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.CompressionLevel < -2 || job.CompressionLevel > 9 {
		return nil, fmt.Errorf("%w: compression level %d out of range", ErrInvalidJob, job.CompressionLevel)
	}
	return job, nil
}

// BaseName is the source's base name, used for every output file.
func (j *Job) BaseName() string {
	return filepath.Base(j.SourcePath)
}

// OutputBase is the output path without extension.
func (j *Job) OutputBase() string {
	return filepath.Join(j.OutputDir, j.BaseName())
}

// ContainerPath is where the unsplit container is written.
func (j *Job) ContainerPath() string {
	return j.OutputBase() + ContainerSuffix
}

// Outcome is the single terminal result of a job.
type Outcome struct {
	JobID   string    `yaml:"job_id"`
	Success bool      `yaml:"success"`
	Message string    `yaml:"message"`
	Volumes VolumeSet `yaml:"volumes,omitempty"`
	Err     error     `yaml:"-"`
}

// Engine runs archive jobs: scan, build, then split, strictly in that
// order on the calling goroutine.
type Engine struct {
	scanner  *Scanner
	builder  *Builder
	splitter *Splitter
	log      *logger.Logger
}

func NewEngine() *Engine {
	return &Engine{
		scanner:  NewScanner(),
		builder:  NewBuilder(),
		splitter: NewSplitter(),
		log:      logger.NewLogger("archive"),
	}
}

// Run executes the job and reports progress to rep. Percentages reaching
// rep never decrease and the last one is 100 on success.
func (e *Engine) Run(job *Job, rep progress.Reporter) Outcome {
	guard := progress.NewMonotonic(rep)
	log := e.log.WithField("job", job.ID)

	volumes, err := e.run(job, guard)
	if err != nil {
		entry := log.WithError(err).WithField("progress", guard.Last())
		if IsUserError(err) {
			entry.Warn("Archive job rejected")
		} else {
			entry.Error("Archive job failed")
		}
		return Outcome{
			JobID:   job.ID,
			Message: fmt.Sprintf("compression failed: %v", err),
			Err:     err,
		}
	}

	var msg string
	if len(volumes) == 1 {
		msg = fmt.Sprintf("compression complete, output: %s", volumes[0])
	} else {
		msg = fmt.Sprintf("compression complete, %d volumes: %s.*", len(volumes), job.OutputBase())
	}
	log.Info(msg)

	return Outcome{
		JobID:   job.ID,
		Success: true,
		Message: msg,
		Volumes: volumes,
	}
}

func (e *Engine) run(job *Job, rep progress.Reporter) (VolumeSet, error) {
	manifest, err := e.scanner.Scan(job.SourcePath, job.Exclude)
	if err != nil {
		return nil, err
	}

	e.warnIfOutputInsideSource(job)

	container, err := e.builder.Build(job, manifest, rep)
	if err != nil {
		return nil, err
	}

	return e.splitter.Split(container, job.OutputBase(), job.VolumeSize, rep)
}

// warnIfOutputInsideSource flags an output directory inside the source
// tree. The temp container is created after the scan, so the current run
// never archives its own output, but later runs will.
func (e *Engine) warnIfOutputInsideSource(job *Job) {
	rel, err := filepath.Rel(job.SourcePath, job.OutputDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	e.log.WithFields(logger.Fields{
		"source": job.SourcePath,
		"output": job.OutputDir,
	}).Warn("Output directory is inside the source tree; outputs will be included by later runs")
}

// Start runs the job on its own goroutine. The returned channel receives
// exactly one Outcome and is then closed.
func (e *Engine) Start(job *Job, rep progress.Reporter) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		defer helper.RecoverPanic(e.log, "archive-job", func(r any) {
			err := fmt.Errorf("%w: panic: %v", ErrBuildFailed, r)
			out <- Outcome{JobID: job.ID, Message: fmt.Sprintf("compression failed: %v", err), Err: err}
		})
		out <- e.Run(job, rep)
	}()
	return out
}

// IsUserError reports whether err stems from bad input rather than an I/O
// failure while building or splitting.
func IsUserError(err error) bool {
	return errors.Is(err, ErrEmptySource) || errors.Is(err, ErrSourceMissing) || errors.Is(err, ErrInvalidJob)
}
