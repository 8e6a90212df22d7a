// Package config provides typed configuration loading and validation for the swing coach services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Frame budget bounds for a single inference call.
const (
	DefaultFrameBudget = 12
	MinFrameBudget     = 6
	MaxFrameBudget     = 20
)

// Defaults applied by Normalize when a value is unset.
const (
	DefaultLockWindow       = 10 * time.Minute
	DefaultHistoryLimit     = 3
	DefaultKeyCacheTTL      = 6 * time.Hour
	DefaultFetchConcurrency = 4
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Object storage backends.
const (
	ObjectsGCS   = "gcs"
	ObjectsLocal = "local"
)

// Dispatch modes for stage handoff.
const (
	DispatchPubSub = "pubsub"
	DispatchInline = "inline"
)

// Config is the full runtime configuration. It is built once at startup and
// passed to constructors; nothing below cmd/ reads the environment directly.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Objects   ObjectConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Identity  IdentityConfig
	Pipeline  PipelineConfig
	Log       LogConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Backend       string `env:"STORE_BACKEND" envDefault:"postgres" validate:"oneof=postgres mongo"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MongoURI      string `env:"MONGODB_URI" validate:"required_if=Backend mongo"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"swing_coach"`
}

// ObjectConfig selects where videos and frames live.
type ObjectConfig struct {
	Backend  string `env:"OBJECT_BACKEND" envDefault:"local" validate:"oneof=gcs local"`
	LocalDir string `env:"LOCAL_STORAGE_DIR" envDefault:"./data/objects"`
	// FrameBucket receives extracted frames. Empty means the upload bucket.
	FrameBucket string `env:"FRAME_BUCKET"`
}

// QueueConfig controls how extraction and inference are triggered.
type QueueConfig struct {
	Mode                   string `env:"DISPATCH_MODE" envDefault:"inline" validate:"oneof=pubsub inline"`
	ProjectID              string `env:"PUBSUB_PROJECT_ID" validate:"required_if=Mode pubsub"`
	ExtractionTopic        string `env:"EXTRACTION_TOPIC" envDefault:"swing-extraction"`
	ExtractionSubscription string `env:"EXTRACTION_SUBSCRIPTION" envDefault:"swing-extraction-worker"`
	InferenceTopic         string `env:"INFERENCE_TOPIC" envDefault:"swing-inference"`
	InferenceSubscription  string `env:"INFERENCE_SUBSCRIPTION" envDefault:"swing-inference-worker"`
	MaxOutstandingMessages int    `env:"PUBSUB_MAX_OUTSTANDING" envDefault:"4" validate:"min=1"`
}

// InferenceConfig configures the vision model.
type InferenceConfig struct {
	APIKey    string        `env:"GEMINI_API_KEY"`
	ModelTier string        `env:"GEMINI_MODEL" envDefault:"advanced"`
	Timeout   time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"90s"`
}

// IdentityConfig configures bearer-token verification.
type IdentityConfig struct {
	KeysURL     string        `env:"JWKS_URL"`
	Issuer      string        `env:"TOKEN_ISSUER"`
	Audience    string        `env:"TOKEN_AUDIENCE"`
	KeyCacheTTL time.Duration `env:"KEY_CACHE_TTL"`
}

// PipelineConfig holds the tunable limits of the analysis stages.
type PipelineConfig struct {
	FrameBudget      int           `env:"FRAME_BUDGET"`
	LockWindow       time.Duration `env:"LOCK_WINDOW"`
	HistoryLimit     int           `env:"HISTORY_LIMIT"`
	FetchConcurrency int           `env:"FRAME_FETCH_CONCURRENCY"`
	FrameRate        float64       `env:"FRAME_RATE" envDefault:"4"`
}

// LogConfig configures logrus output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	File   string `env:"LOG_FILE"`
}

var validate = validator.New()

// Load parses the environment into a Config, validates it and applies defaults.
// Callers load any .env file beforehand.
func Load() (*Config, error) {
	return LoadWith(env.Options{})
}

// LoadWith is Load with explicit parser options, e.g. a fixed Environment map in tests.
func LoadWith(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Pipeline.FrameBudget < 0 {
		return fmt.Errorf("config error: FRAME_BUDGET must be non-negative")
	}
	if c.Pipeline.LockWindow < 0 {
		return fmt.Errorf("config error: LOCK_WINDOW must be non-negative")
	}
	return nil
}

// Normalize fills unset limits with defaults and clamps the frame budget
// into [MinFrameBudget, MaxFrameBudget].
func (c *Config) Normalize() {
	c.Pipeline.FrameBudget = ClampFrameBudget(c.Pipeline.FrameBudget)
	if c.Pipeline.LockWindow <= 0 {
		c.Pipeline.LockWindow = DefaultLockWindow
	}
	if c.Pipeline.HistoryLimit <= 0 {
		c.Pipeline.HistoryLimit = DefaultHistoryLimit
	}
	if c.Pipeline.FetchConcurrency <= 0 {
		c.Pipeline.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Pipeline.FrameRate <= 0 {
		c.Pipeline.FrameRate = 4
	}
	if c.Identity.KeyCacheTTL <= 0 {
		c.Identity.KeyCacheTTL = DefaultKeyCacheTTL
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	c.Objects.Backend = strings.ToLower(c.Objects.Backend)
	c.Queue.Mode = strings.ToLower(c.Queue.Mode)
}

// ClampFrameBudget maps zero to the default and clamps everything else into range.
func ClampFrameBudget(budget int) int {
	switch {
	case budget <= 0:
		return DefaultFrameBudget
	case budget < MinFrameBudget:
		return MinFrameBudget
	case budget > MaxFrameBudget:
		return MaxFrameBudget
	default:
		return budget
	}
}

// Default returns a normalized Config for tests and local runs.
func Default() *Config {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		Store:   StoreConfig{Backend: StorePostgres, MongoDatabase: "swing_coach"},
		Objects: ObjectConfig{Backend: ObjectsLocal, LocalDir: "./data/objects"},
		Queue: QueueConfig{
			Mode:                   DispatchInline,
			ExtractionTopic:        "swing-extraction",
			ExtractionSubscription: "swing-extraction-worker",
			InferenceTopic:         "swing-inference",
			InferenceSubscription:  "swing-inference-worker",
			MaxOutstandingMessages: 4,
		},
		Inference: InferenceConfig{ModelTier: "advanced", Timeout: 90 * time.Second},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
	cfg.Normalize()
	return cfg
}
