package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Engine holds the detector parameters
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// RulesPath points to an optional CEL adjustment-rule file.
	RulesPath string `json:"rulesPath"`

	// RateLimit is the max uploads per tenant per minute. 0 disables.
	RateLimit int `json:"rateLimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxUploadBytes caps the accepted CSV body.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
}

// EngineConfig holds the batch analysis parameters.
type EngineConfig struct {
	// WindowHours is the temporal coherence window shared by the cycle
	// and smurfing detectors.
	WindowHours float64 `json:"windowHours"`

	// SmurfingThreshold is the minimum unique counterparties in a window.
	SmurfingThreshold int `json:"smurfingThreshold"`

	// Cycle detector budgets.
	MaxCycles        int `json:"maxCycles"`
	MaxFramesPerRoot int `json:"maxFramesPerRoot"`

	// Shell detector budgets.
	MaxPaths          int `json:"maxPaths"`
	MaxPathsPerSource int `json:"maxPathsPerSource"`
}

// DefaultEngineConfig returns the production detector parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WindowHours:       72,
		SmurfingThreshold: 10,
		MaxCycles:         5000,
		MaxFramesPerRoot:  30000,
		MaxPaths:          2000,
		MaxPathsPerSource: 200,
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    60,
			WriteTimeout:   60,
			MaxUploadBytes: 10 << 20,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		RateLimit: 30,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
