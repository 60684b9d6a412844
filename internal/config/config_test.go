package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.StorageDriver != StorageMemory {
		t.Errorf("StorageDriver = %s, want memory", cfg.StorageDriver)
	}
	if cfg.Offer.TTL != 30*time.Minute {
		t.Errorf("Offer.TTL = %v, want 30m", cfg.Offer.TTL)
	}
	if cfg.Offer.SweepInterval != time.Minute {
		t.Errorf("Offer.SweepInterval = %v, want 1m", cfg.Offer.SweepInterval)
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka should be disabled by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "POSTGRES")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CARRIER_CITIES", "car-1=İstanbul, car-2 = Ankara")
	t.Setenv("OFFER_TTL", "10m")
	t.Setenv("RATE_LIMIT_IP_RATE", "2.5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.StorageDriver != StoragePostgres {
		t.Errorf("StorageDriver = %s, want postgres", cfg.StorageDriver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Profile.CarrierCities["car-1"] != "İstanbul" || cfg.Profile.CarrierCities["car-2"] != "Ankara" {
		t.Errorf("CarrierCities = %v", cfg.Profile.CarrierCities)
	}
	if cfg.Offer.TTL != 10*time.Minute {
		t.Errorf("Offer.TTL = %v, want 10m", cfg.Offer.TTL)
	}
	if cfg.RateLimit.IPRefillRate != 2.5 {
		t.Errorf("IPRefillRate = %v, want 2.5", cfg.RateLimit.IPRefillRate)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "PORT", "eighty"},
		{"bad driver", "STORAGE_DRIVER", "mongo"},
		{"bad duration", "OFFER_TTL", "soon"},
		{"bad pairs", "CARRIER_CITIES", "car-1"},
		{"kafka without postgres", "KAFKA_ENABLED", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	if _, err := FromEnv(); err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
}
