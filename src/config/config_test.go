package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"topicbus/src/logger"
)

var configVars = []string{
	"BROKER_HOSTS", "BROKER_HOST", "CLIENT_ID", "GROUP_ID",
	"TOPIC_PARTITIONS", "TOPIC_REPLICATION",
	"RETRY_INITIAL", "RETRY_MAX", "RETRY_MAX_ATTEMPTS", "RETRY_MAX_ELAPSED",
	"CONNECT_ATTEMPT_TIMEOUT", "POSTGRES_DSN", "METRICS_ADDR", "LOG_LEVEL",
}

// clearEnv unsets every config variable and restores the originals when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configVars {
		original, ok := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if ok {
				os.Setenv(key, original)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() unexpected error: %v", err)
	}

	if got := cfg.Brokers(); !reflect.DeepEqual(got, []string{"localhost:9092"}) {
		t.Errorf("Brokers() = %v, want [localhost:9092]", got)
	}
	if tp := cfg.TopicPolicy(); tp.Partitions != 3 || tp.ReplicationFactor != 3 {
		t.Errorf("TopicPolicy() = %+v, want 3/3", tp)
	}

	rp := cfg.RetryPolicy()
	if rp.InitialInterval != 250*time.Millisecond || rp.MaxInterval != 10*time.Second {
		t.Errorf("RetryPolicy() intervals = %v/%v", rp.InitialInterval, rp.MaxInterval)
	}
	if rp.MaxAttempts != 0 || rp.MaxElapsed != 0 {
		t.Errorf("RetryPolicy() should be unbounded by default, got %+v", rp)
	}
	if rp.AttemptTimeout != 10*time.Second {
		t.Errorf("AttemptTimeout = %v, want 10s", rp.AttemptTimeout)
	}
	if cfg.Level() != logger.LevelInfo {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
	if cfg.PostgresDSN != "" || cfg.MetricsAddr != "" {
		t.Error("optional settings should be empty by default")
	}
}

func TestLoadFromEnv_Brokers(t *testing.T) {
	tests := []struct {
		name  string
		hosts string
		host  string
		want  []string
	}{
		{"list wins", "k1:9092, k2:9092 ,", "single:9092", []string{"k1:9092", "k2:9092"}},
		{"single fallback", "", "single:9092", []string{"single:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.hosts != "" {
				os.Setenv("BROKER_HOSTS", tt.hosts)
			}
			os.Setenv("BROKER_HOST", tt.host)

			cfg, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() unexpected error: %v", err)
			}
			if got := cfg.Brokers(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Brokers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("TOPIC_PARTITIONS", "1")
	os.Setenv("TOPIC_REPLICATION", "1")
	os.Setenv("RETRY_MAX_ATTEMPTS", "5")
	os.Setenv("RETRY_MAX_ELAPSED", "2m")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() unexpected error: %v", err)
	}
	if tp := cfg.TopicPolicy(); tp.Partitions != 1 || tp.ReplicationFactor != 1 {
		t.Errorf("TopicPolicy() = %+v, want 1/1", tp)
	}
	rp := cfg.RetryPolicy()
	if rp.MaxAttempts != 5 || rp.MaxElapsed != 2*time.Minute {
		t.Errorf("RetryPolicy() ceilings = %d/%v", rp.MaxAttempts, rp.MaxElapsed)
	}
	if cfg.Level() != logger.LevelDebug {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero partitions", "TOPIC_PARTITIONS", "0"},
		{"zero replication", "TOPIC_REPLICATION", "0"},
		{"negative attempts", "RETRY_MAX_ATTEMPTS", "-1"},
		{"bad duration", "RETRY_INITIAL", "soon"},
		{"no brokers", "BROKER_HOST", " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			os.Setenv(tt.key, tt.val)

			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("LoadFromEnv() expected error for %s=%q, got nil", tt.key, tt.val)
			}
		})
	}
}
