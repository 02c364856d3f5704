package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Store.Driver != StoreMemory || cfg.Queue.Driver != QueueMemory {
		t.Errorf("unexpected drivers: %s / %s", cfg.Store.Driver, cfg.Queue.Driver)
	}
	if cfg.Recalc.BatchSize != 1000 || cfg.Recalc.Exclusive {
		t.Errorf("unexpected recalc defaults: %+v", cfg.Recalc)
	}
	if cfg.Queue.JobRetention != 1000 {
		t.Errorf("JobRetention = %d, want 1000", cfg.Queue.JobRetention)
	}
	if cfg.Redis.TTL != 10*time.Minute {
		t.Errorf("cache TTL = %s, want 10m", cfg.Redis.TTL)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DB_SOURCE", "postgres://localhost/networth")
	t.Setenv("QUEUE_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RECALC_EXCLUSIVE", "true")
	t.Setenv("RECALC_BATCH_SIZE", "250")
	t.Setenv("RECALC_LEASE_TTL", "90s")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("Port = %d", cfg.HTTP.Port)
	}
	if cfg.Store.Driver != StorePostgres {
		t.Errorf("Driver = %s", cfg.Store.Driver)
	}
	if got := strings.Join(cfg.Queue.KafkaBrokers, "|"); got != "k1:9092|k2:9092" {
		t.Errorf("brokers = %s", got)
	}
	if !cfg.Recalc.Exclusive || cfg.Recalc.BatchSize != 250 || cfg.Recalc.LeaseTTL != 90*time.Second {
		t.Errorf("unexpected recalc config: %+v", cfg.Recalc)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "eighty"}},
		{"port out of range", map[string]string{"SERVER_PORT": "70000"}},
		{"bad duration", map[string]string{"HISTORY_CACHE_TTL": "soon"}},
		{"bad bool", map[string]string{"RECALC_EXCLUSIVE": "maybe"}},
		{"unknown store", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"postgres without source", map[string]string{"STORE_DRIVER": "postgres"}},
		{"bigquery without project", map[string]string{"STORE_DRIVER": "bigquery"}},
		{"kafka without brokers", map[string]string{"QUEUE_DRIVER": "kafka"}},
		{"zero batch size", map[string]string{"RECALC_BATCH_SIZE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
