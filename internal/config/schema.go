package config

// Config holds evocable configuration.
// Stored at: ./config.yaml or $HOME/.evocable/config.yaml
type Config struct {
	// ListenAddr is the HTTP bind address for the gateway.
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	// BlobRoot locates the blob store: a directory path or an s3://bucket/prefix URL.
	BlobRoot string `mapstructure:"blob_root" json:"blob_root" yaml:"blob_root"`
	// StoreDSN is the metadata database file path.
	StoreDSN string `mapstructure:"store_dsn" json:"store_dsn" yaml:"store_dsn"`
	// QueueDSN is the queue broker database file path.
	QueueDSN string `mapstructure:"queue_dsn" json:"queue_dsn" yaml:"queue_dsn"`
	// SigningSecret signs chunk URLs (supports ${ENV_VAR} syntax).
	SigningSecret string `mapstructure:"signing_secret" json:"signing_secret" yaml:"signing_secret"`
	// SignedURLTTLS is the signed URL lifetime in seconds.
	SignedURLTTLS int `mapstructure:"signed_url_ttl_s" json:"signed_url_ttl_s" yaml:"signed_url_ttl_s"`
	// MaxUploadBytes caps source document size.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" json:"max_upload_bytes" yaml:"max_upload_bytes"`
	// TargetSegmentDurationS is the nominal audio chunk length in seconds.
	TargetSegmentDurationS float64 `mapstructure:"target_segment_duration_s" json:"target_segment_duration_s" yaml:"target_segment_duration_s"`
	// WorkerLeaseS maps stage name to queue reservation lease in seconds.
	WorkerLeaseS map[string]int `mapstructure:"worker_lease_s" json:"worker_lease_s" yaml:"worker_lease_s"`
	// WorkerMaxAttempts is the delivery count after which a job fails the book.
	WorkerMaxAttempts int `mapstructure:"worker_max_attempts" json:"worker_max_attempts" yaml:"worker_max_attempts"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	// StageWorkers lists the stages this process runs workers for.
	// Empty means all stages.
	StageWorkers []string `mapstructure:"stage_workers" json:"stage_workers" yaml:"stage_workers"`
	// Synth configures the speech synthesizer.
	Synth SynthCfg `mapstructure:"synth" json:"synth" yaml:"synth"`
	// Packager selects the audio packager: "ffmpeg" or "mock".
	Packager string `mapstructure:"packager" json:"packager" yaml:"packager"`
}

// SynthCfg configures the speech synthesis provider.
type SynthCfg struct {
	Provider string  `mapstructure:"provider" json:"provider" yaml:"provider"` // "openai", "mock"
	Model    string  `mapstructure:"model" json:"model" yaml:"model"`       // Model name
	Voice    string  `mapstructure:"voice" json:"voice" yaml:"voice"`       // Voice name
	APIKey   string  `mapstructure:"api_key" json:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	Speed    float64 `mapstructure:"speed" json:"speed" yaml:"speed"`       // Speech speed multiplier
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:             ":8000",
		BlobRoot:               "./data/blobs",
		StoreDSN:               "./data/evocable.db",
		QueueDSN:               "./data/queue.db",
		SigningSecret:          "${EVOCABLE_SECRET}",
		SignedURLTTLS:          900,
		MaxUploadBytes:         50 << 20,
		TargetSegmentDurationS: 3.14,
		WorkerLeaseS: map[string]int{
			"extract":    120,
			"segment":    120,
			"synthesize": 1800,
			"package":    600,
		},
		WorkerMaxAttempts: 3,
		LogLevel:          "info",
		StageWorkers:      nil,
		Synth: SynthCfg{
			Provider: "openai",
			Model:    "gpt-4o-mini-tts",
			Voice:    "onyx",
			APIKey:   "${OPENAI_API_KEY}",
			Speed:    1.0,
		},
		Packager: "ffmpeg",
	}
}
