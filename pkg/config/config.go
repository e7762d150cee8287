package config

import (
	"log"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App struct {
		Env       string `env:"APP_ENV" env-default:"development"`
		Port      int    `env:"APP_PORT" env-default:"3000"`
		SentryDSN string `env:"SENTRY_DSN"`
	}
	Relay struct {
		URLs            string `env:"RELAY_URLS" env-default:"wss://relay.damus.io,wss://nos.lol,wss://relay.nostr.band,wss://nostr.wine,wss://relay.snort.social,wss://relay.primal.net,wss://purplepag.es"`
		DialTimeoutSec  int    `env:"RELAY_DIAL_TIMEOUT_SEC" env-default:"10"`
		QueryTimeoutSec int    `env:"RELAY_QUERY_TIMEOUT_SEC" env-default:"15"`
	}
	Pipeline struct {
		LookbackSec       int `env:"PIPELINE_LOOKBACK_SEC" env-default:"7200"`
		BulkLimit         int `env:"PIPELINE_BULK_LIMIT" env-default:"50"`
		MaxInitRetries    int `env:"PIPELINE_MAX_INIT_RETRIES" env-default:"5"`
		ReconnectDelaySec int `env:"PIPELINE_RECONNECT_DELAY_SEC" env-default:"5"`
		HealthIntervalSec int `env:"PIPELINE_HEALTH_INTERVAL_SEC" env-default:"30"`
		StaleThresholdSec int `env:"PIPELINE_STALE_THRESHOLD_SEC" env-default:"180"`
		ProfileTimeoutSec int `env:"PIPELINE_PROFILE_TIMEOUT_SEC" env-default:"5"`
		MaxBufferedEvents int `env:"PIPELINE_MAX_BUFFERED_EVENTS" env-default:"200"`
		MaxSeenEventIDs   int `env:"PIPELINE_MAX_SEEN_EVENT_IDS" env-default:"1000"`
		ProcessWorkers    int `env:"PIPELINE_PROCESS_WORKERS" env-default:"5"`
	}
	TimeMachine struct {
		MaxStoredPerType     int    `env:"TIME_MACHINE_MAX_PER_TYPE" env-default:"10000"`
		DefaultWindowMinutes int    `env:"TIME_MACHINE_DEFAULT_WINDOW_MINUTES" env-default:"60"`
		TimeSliceMinutes     int    `env:"TIME_MACHINE_TIME_SLICE_MINUTES" env-default:"60"`
		StorageKey           string `env:"TIME_MACHINE_STORAGE_KEY" env-default:"time-machine-media"`
		FlushIntervalSec     int    `env:"TIME_MACHINE_FLUSH_INTERVAL_SEC" env-default:"2"`
	}
}

// RelayURLs splits the comma-separated relay list.
func (c *Config) RelayURLs() []string {
	parts := strings.Split(c.Relay.URLs, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if u := strings.TrimSpace(p); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

var (
	once sync.Once
	cfg  *Config
)

func New() (*Config, error) {
	once.Do(func() {
		cfg = &Config{}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			help, _ := cleanenv.GetDescription(cfg, nil)
			log.Fatalf("Failed to read configuration: %v\n%v", err, help)
		}
	})
	return cfg, nil
}
