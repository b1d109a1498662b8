package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Intake   IntakeConfig   `yaml:"intake"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings. Consumption is always
// manual-ack: a delivery is only consumed once its job reached a terminal
// state.
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the filesystem layout for video artifacts.
// Raw uploads, processed clips and transient frame workspaces all live
// under BaseDir in fixed subdirectories.
type StorageConfig struct {
	BaseDir       string `yaml:"base_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	RawExtension  string `yaml:"raw_extension"`
}

// RawDir returns the directory holding original uploads.
func (s *StorageConfig) RawDir() string {
	return filepath.Join(s.BaseDir, "raw")
}

// ProcessedDir returns the directory holding finished clips, one per challenge.
func (s *StorageConfig) ProcessedDir() string {
	return filepath.Join(s.BaseDir, "processed")
}

// FramesDir returns the root under which per-job workspaces are created.
func (s *StorageConfig) FramesDir() string {
	return filepath.Join(s.BaseDir, "frames")
}

// IntakeConfig holds upload validation settings enforced before a job is created
type IntakeConfig struct {
	MaxUploadMB       int64    `yaml:"max_upload_mb"`
	MaxSourceDuration int      `yaml:"max_source_duration_seconds"`
	AllowedMIMETypes  []string `yaml:"allowed_mime_types"`
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (i *IntakeConfig) MaxUploadBytes() int64 {
	return i.MaxUploadMB * 1024 * 1024
}

// PipelineConfig holds transcode pipeline settings
type PipelineConfig struct {
	// Mode selects the pipeline variant: "single-pass" (default) or "multi-stage"
	Mode           string         `yaml:"mode"`
	FFmpegPath     string         `yaml:"ffmpeg_path"`
	FFprobePath    string         `yaml:"ffprobe_path"`
	OutputWidth    int            `yaml:"output_width"`
	OutputHeight   int            `yaml:"output_height"`
	OutputFPS      int            `yaml:"output_fps"`
	VideoQuality   int            `yaml:"video_quality"`
	AudioBitrate   string         `yaml:"audio_bitrate"`
	ColorKey       ColorKeyConfig `yaml:"color_key"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
	KeyConcurrency int            `yaml:"key_concurrency"`
	Reaper         ReaperConfig   `yaml:"reaper"`
}

// ColorKeyConfig holds chroma-key filter tolerances
type ColorKeyConfig struct {
	Color      string  `yaml:"color"`
	Similarity float64 `yaml:"similarity"`
	Blend      float64 `yaml:"blend"`
}

// TimeoutsConfig bounds each external tool invocation
type TimeoutsConfig struct {
	Extract    time.Duration `yaml:"extract"`
	KeyFrame   time.Duration `yaml:"key_frame"`
	Reassemble time.Duration `yaml:"reassemble"`
	Probe      time.Duration `yaml:"probe"`
}

// ReaperConfig controls removal of orphaned per-job workspaces left behind
// by a worker that crashed before its cleanup ran
type ReaperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Pipeline mode values
const (
	ModeSinglePass = "single-pass"
	ModeMultiStage = "multi-stage"
)

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in defaults for optional settings
func (c *Config) applyDefaults() {
	if c.Storage.RawExtension == "" {
		c.Storage.RawExtension = ".mp4"
	}
	if c.Intake.MaxUploadMB <= 0 {
		c.Intake.MaxUploadMB = 100
	}
	if c.Intake.MaxSourceDuration <= 0 {
		c.Intake.MaxSourceDuration = 120
	}
	if len(c.Intake.AllowedMIMETypes) == 0 {
		c.Intake.AllowedMIMETypes = []string{"video/mp4", "video/webm", "video/quicktime"}
	}
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = ModeSinglePass
	}
	if c.Pipeline.FFmpegPath == "" {
		c.Pipeline.FFmpegPath = "ffmpeg"
	}
	if c.Pipeline.FFprobePath == "" {
		c.Pipeline.FFprobePath = "ffprobe"
	}
	if c.Pipeline.OutputWidth <= 0 {
		c.Pipeline.OutputWidth = 200
	}
	if c.Pipeline.OutputHeight <= 0 {
		c.Pipeline.OutputHeight = 130
	}
	if c.Pipeline.OutputFPS <= 0 {
		c.Pipeline.OutputFPS = 12
	}
	if c.Pipeline.VideoQuality <= 0 {
		c.Pipeline.VideoQuality = 30
	}
	if c.Pipeline.AudioBitrate == "" {
		c.Pipeline.AudioBitrate = "96k"
	}
	if c.Pipeline.ColorKey.Color == "" {
		c.Pipeline.ColorKey.Color = "0x00FF00"
	}
	if c.Pipeline.ColorKey.Similarity <= 0 {
		c.Pipeline.ColorKey.Similarity = 0.3
	}
	if c.Pipeline.ColorKey.Blend <= 0 {
		c.Pipeline.ColorKey.Blend = 0.1
	}
	if c.Pipeline.Timeouts.Extract <= 0 {
		c.Pipeline.Timeouts.Extract = 2 * time.Minute
	}
	if c.Pipeline.Timeouts.KeyFrame <= 0 {
		c.Pipeline.Timeouts.KeyFrame = 30 * time.Second
	}
	if c.Pipeline.Timeouts.Reassemble <= 0 {
		c.Pipeline.Timeouts.Reassemble = 5 * time.Minute
	}
	if c.Pipeline.Timeouts.Probe <= 0 {
		c.Pipeline.Timeouts.Probe = 15 * time.Second
	}
	if c.Pipeline.KeyConcurrency <= 0 {
		c.Pipeline.KeyConcurrency = 4
	}
	if c.Pipeline.Reaper.Interval <= 0 {
		c.Pipeline.Reaper.Interval = 10 * time.Minute
	}
	if c.Pipeline.Reaper.MaxAge <= 0 {
		c.Pipeline.Reaper.MaxAge = time.Hour
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 30 * time.Second
	}
}

// ValidateAPI checks the configuration needed by the API service
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Intake.MaxUploadMB <= 0 {
		return fmt.Errorf("intake max_upload_mb must be greater than 0")
	}

	if c.Storage.PublicBaseURL == "" {
		return fmt.Errorf("storage public_base_url is required")
	}

	return nil
}

// ValidateWorker checks the configuration needed by the worker service
func (c *Config) ValidateWorker() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Pipeline.Mode != ModeSinglePass && c.Pipeline.Mode != ModeMultiStage {
		return fmt.Errorf("invalid pipeline mode: %q (must be %q or %q)", c.Pipeline.Mode, ModeSinglePass, ModeMultiStage)
	}

	if c.Pipeline.ColorKey.Similarity < 0 || c.Pipeline.ColorKey.Similarity > 1 {
		return fmt.Errorf("color_key similarity must be in [0,1]")
	}

	if c.Pipeline.ColorKey.Blend < 0 || c.Pipeline.ColorKey.Blend > 1 {
		return fmt.Errorf("color_key blend must be in [0,1]")
	}

	return nil
}

// validateShared checks settings both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage base_dir is required")
	}

	return nil
}
