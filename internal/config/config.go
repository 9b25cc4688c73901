// Package config provides runtime configuration values for the console.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration knobs for the HTTP server, the backend API
// client, the upload workers, and the console behavior.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// BackendBaseURL is the API the console talks to for provider config,
	// ownership checks, and image storage.
	BackendBaseURL string `env:"BACKEND_BASE_URL" envDefault:"https://api.holysmokas.com"`
	// ProjectID scopes the session to one store instance. Read once at
	// boot and immutable afterwards.
	ProjectID string `env:"PROJECT_ID"`
	// BackendRequestsPerMinute throttles outgoing backend calls.
	BackendRequestsPerMinute int `env:"BACKEND_REQUESTS_PER_MINUTE" envDefault:"70"`

	// StatePath is the sqlite file holding durable console state.
	StatePath string `env:"STATE_PATH" envDefault:"storefront.db"`

	UploadMaxBytes int64         `env:"UPLOAD_MAX_BYTES" envDefault:"5242880"`
	ToastTTL       time.Duration `env:"TOAST_TTL" envDefault:"3s"`

	InitialWorkerCount      int           `env:"WORKER_COUNT" envDefault:"2"`
	WorkerMin               int           `env:"WORKER_MIN" envDefault:"1"`
	WorkerMax               int           `env:"WORKER_MAX" envDefault:"4"`
	ScaleInterval           time.Duration `env:"SCALE_INTERVAL" envDefault:"500ms"`
	ScaleUpBacklogPerWorker int           `env:"SCALE_UP_BACKLOG_PER_WORKER" envDefault:"8"`
	ScaleDownIdleTicks      int           `env:"SCALE_DOWN_IDLE_TICKS" envDefault:"6"`
	QueueHighWatermark      int           `env:"QUEUE_HIGH_WATERMARK" envDefault:"64"`
}

// Load collects configuration from environment with defaults.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if c.InitialWorkerCount < c.WorkerMin {
		c.InitialWorkerCount = c.WorkerMin
	}
	if c.InitialWorkerCount > c.WorkerMax {
		c.InitialWorkerCount = c.WorkerMax
	}
	return c, nil
}
