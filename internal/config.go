package internal

import (
	"fmt"
	"time"
)

type Config struct {
	BadgerFilepath   string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath    string        `env:"BLUGE_FILEPATH,required=true"`
	NatsURL          string        `env:"NATS_URL,required=true"`
	LogLevel         string        `env:"LOG_LEVEL,required=true"`
	BufferSize       int           `env:"BUFFER_SIZE,required=true"`
	SignalBufferSize int           `env:"SIGNAL_BUFFER_SIZE,required=true"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL,required=true"`
	OfflineThreshold time.Duration `env:"OFFLINE_THRESHOLD,required=true"`
	RecallWindow     time.Duration `env:"RECALL_WINDOW,required=true"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,required=true"`
	NatsTimeout      time.Duration `env:"NATS_TIMEOUT"`
}

// Validate catches values the env tags cannot express.
func (c Config) Validate() error {
	if c.OfflineThreshold <= c.SweepInterval {
		return fmt.Errorf(
			"OFFLINE_THRESHOLD (%s) must exceed SWEEP_INTERVAL (%s)",
			c.OfflineThreshold, c.SweepInterval,
		)
	}
	if c.RecallWindow <= 0 {
		return fmt.Errorf("RECALL_WINDOW must be positive, got %s", c.RecallWindow)
	}
	return nil
}
