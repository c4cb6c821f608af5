package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/CloudNativeWorks/volzip/internal/archive"
	"github.com/CloudNativeWorks/volzip/internal/selfupdate"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

const (
	// MinVolumeSize is the smallest volume threshold the CLI accepts.
	MinVolumeSize = 1 << 20

	DefaultVolumeSize = "100MiB"
	DefaultFeedURL    = "https://api.github.com/repos/CloudNativeWorks/volzip/releases/latest"
)

// Config holds all application configuration
type Config struct {
	Archive ArchiveConfig `mapstructure:"archive"`
	Update  UpdateConfig  `mapstructure:"update"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ArchiveConfig holds defaults for compress jobs
type ArchiveConfig struct {
	VolumeSize       string   `mapstructure:"volume_size"`
	CompressionLevel int      `mapstructure:"compression_level"`
	Exclude          []string `mapstructure:"exclude"`
	OutputDir        string   `mapstructure:"output_dir"`
}

// UpdateConfig holds self-update configuration
type UpdateConfig struct {
	FeedURL         string        `mapstructure:"feed_url"`
	CheckOnStart    bool          `mapstructure:"check_on_start"`
	CheckTimeout    time.Duration `mapstructure:"check_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	ExecutableName  string        `mapstructure:"executable_name"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	VersionCompare  string        `mapstructure:"version_compare"`
	AssetExtension  string        `mapstructure:"asset_extension"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultExecutableName returns the file name the update package is
// expected to contain for the running platform.
func DefaultExecutableName() string {
	if runtime.GOOS == "windows" {
		return "volzip.exe"
	}
	return "volzip"
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("archive.volume_size", def.Archive.VolumeSize)
	v.SetDefault("archive.compression_level", def.Archive.CompressionLevel)
	v.SetDefault("archive.exclude", []string{})
	v.SetDefault("archive.output_dir", def.Archive.OutputDir)

	v.SetDefault("update.feed_url", def.Update.FeedURL)
	v.SetDefault("update.check_on_start", def.Update.CheckOnStart)
	v.SetDefault("update.check_timeout", def.Update.CheckTimeout)
	v.SetDefault("update.download_timeout", def.Update.DownloadTimeout)
	v.SetDefault("update.chunk_size", def.Update.ChunkSize)
	v.SetDefault("update.executable_name", def.Update.ExecutableName)
	v.SetDefault("update.grace_period", def.Update.GracePeriod)
	v.SetDefault("update.poll_interval", def.Update.PollInterval)
	v.SetDefault("update.version_compare", def.Update.VersionCompare)
	v.SetDefault("update.asset_extension", def.Update.AssetExtension)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.compress", def.Logging.Compress)
}

// LoadConfig loads configuration from file. An empty path searches the
// working directory and $HOME/.volzip for volzip.yaml; a missing file is
// not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("volzip")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.volzip")
	}

	v.SetEnvPrefix("VOLZIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a default configuration. LoadConfig registers
// these values as viper defaults.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			VolumeSize:       DefaultVolumeSize,
			CompressionLevel: archive.DefaultCompressionLevel,
		},
		Update: UpdateConfig{
			FeedURL:         DefaultFeedURL,
			CheckOnStart:    true,
			CheckTimeout:    selfupdate.DefaultCheckTimeout,
			DownloadTimeout: selfupdate.DefaultDownloadTimeout,
			ChunkSize:       selfupdate.DefaultChunkSize,
			ExecutableName:  DefaultExecutableName(),
			GracePeriod:     selfupdate.DefaultGracePeriod,
			PollInterval:    selfupdate.DefaultPollInterval,
			VersionCompare:  selfupdate.CompareFloat,
			AssetExtension:  selfupdate.DefaultAssetExtension,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       logger.DefaultLogPath(),
			MaxSize:    10,
			MaxAge:     28,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if _, err := ParseVolumeSize(c.Archive.VolumeSize); err != nil {
		return err
	}
	if c.Archive.CompressionLevel < -2 || c.Archive.CompressionLevel > 9 {
		return fmt.Errorf("archive.compression_level must be between -2 and 9, got %d", c.Archive.CompressionLevel)
	}
	if _, err := selfupdate.ComparatorFor(c.Update.VersionCompare); err != nil {
		return fmt.Errorf("update.version_compare: %w", err)
	}
	if c.Update.ChunkSize <= 0 {
		return fmt.Errorf("update.chunk_size must be positive, got %d", c.Update.ChunkSize)
	}
	if c.Update.ExecutableName == "" {
		return fmt.Errorf("update.executable_name is required")
	}
	return nil
}

// LoggerConfig converts the logging section for logger.Init.
func (c *Config) LoggerConfig(module string) logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Module:     module,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxAge:     c.Logging.MaxAge,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}
}

// ParseVolumeSize parses a human readable size ("100MB", "1GiB", "1048576")
// and enforces the 1 MiB minimum. KB, MB, GB and TB are binary units here,
// so "1MB" is 1048576 bytes.
func ParseVolumeSize(s string) (uint64, error) {
	size, err := humanize.ParseBytes(binaryUnits(s))
	if err != nil {
		return 0, fmt.Errorf("invalid volume size %q: %w", s, err)
	}
	if size < MinVolumeSize {
		return 0, fmt.Errorf("volume size %s is below the minimum of %s",
			humanize.IBytes(size), humanize.IBytes(MinVolumeSize))
	}
	return size, nil
}

// binaryUnits rewrites a decimal unit suffix to its IEC form for
// humanize.ParseBytes.
func binaryUnits(s string) string {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && unicode.IsLetter(rune(s[i-1])) {
		i--
	}
	switch strings.ToLower(s[i:]) {
	case "k", "kb":
		return s[:i] + "KiB"
	case "m", "mb":
		return s[:i] + "MiB"
	case "g", "gb":
		return s[:i] + "GiB"
	case "t", "tb":
		return s[:i] + "TiB"
	}
	return s
}
