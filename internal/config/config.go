package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/thrillee/epccore/internal/bus"
)

type ManagerAPIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8081"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
	// bcrypt hash of the X-API-Key value; empty disables the check.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
}

// Config holds the overall application configuration.
type Config struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	Persist    PersistConfig
	MME        MMEConfig
	Bus        BusConfig
	Timer      TimerConfig
	Worker     WorkerConfig
	ManagerAPI ManagerAPIConfig
}

// PersistConfig selects and addresses the checkpoint store.
type PersistConfig struct {
	Enabled bool `envconfig:"PERSIST_ENABLED" default:"false"`
	// memory, postgres or redis
	Backend     string `envconfig:"PERSIST_BACKEND"      default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"            default:"redis://localhost:6379/0"`
	Key         string `envconfig:"PERSIST_KEY"          default:"epc-core"`
	// ColdStartFallback starts empty when the store cannot be read.
	ColdStartFallback bool          `envconfig:"PERSIST_COLD_START_FALLBACK" default:"false"`
	IOTimeout         time.Duration `envconfig:"PERSIST_IO_TIMEOUT"          default:"5s"`
}

// MMEConfig is the MME-side configuration read by signaling tasks.
type MMEConfig struct {
	LAI                        bus.LAI       `ignored:"true"`
	MCC                        string        `envconfig:"MME_LAI_MCC"                      default:"001"`
	MNC                        string        `envconfig:"MME_LAI_MNC"                      default:"01"`
	LAC                        uint16        `envconfig:"MME_LAI_LAC"                      default:"1"`
	UEContextModificationTimer time.Duration `envconfig:"MME_UE_CONTEXT_MODIFICATION_TIMER" default:"2s"`
}

type BusConfig struct {
	// 0 leaves the queues unbounded.
	MaxInFlight int `envconfig:"BUS_MAX_IN_FLIGHT" default:"0"`
}

type TimerConfig struct {
	MaxTimers int `envconfig:"TIMER_MAX_TIMERS" default:"0"`
}

type WorkerConfig struct {
	CheckpointInterval   time.Duration `envconfig:"WORKER_CHECKPOINT_INTERVAL"    default:"30s"`
	QueueMonitorInterval time.Duration `envconfig:"WORKER_QUEUE_MONITOR_INTERVAL" default:"10s"`
	QueueDepthWarn       int           `envconfig:"WORKER_QUEUE_DEPTH_WARN"       default:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	cfg.MME.LAI = bus.LAI{MCC: cfg.MME.MCC, MNC: cfg.MME.MNC, LAC: cfg.MME.LAC}
	log.Printf("Configuration loaded successfully (persist: %t/%s, api: %s)",
		cfg.Persist.Enabled, cfg.Persist.Backend, cfg.ManagerAPI.Addr)
	return &cfg, nil
}
