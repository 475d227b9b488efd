package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected default driver postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Dispatch.MaxCandidates != 10 {
		t.Errorf("expected 10 candidates, got %d", cfg.Dispatch.MaxCandidates)
	}
	if cfg.Dispatch.MaxRadiusMeters != 5000 {
		t.Errorf("expected 5000m radius, got %v", cfg.Dispatch.MaxRadiusMeters)
	}
	if cfg.Dispatch.Timeout != 10*time.Second {
		t.Errorf("expected 10s dispatch timeout, got %v", cfg.Dispatch.Timeout)
	}
	if cfg.Notifier.KafkaTopic != "ride-dispatch-events" {
		t.Errorf("unexpected kafka topic %s", cfg.Notifier.KafkaTopic)
	}
	if cfg.Notifier.KafkaBrokers != nil {
		t.Errorf("expected kafka disabled by default, got %v", cfg.Notifier.KafkaBrokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "PGX")
	t.Setenv("DISPATCH_MAX_CANDIDATES", "3")
	t.Setenv("DISPATCH_MAX_RADIUS_METERS", "1500.5")
	t.Setenv("DISPATCH_COMPENSATION_TIMEOUT", "2s")
	t.Setenv("NOTIFIER_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SWEEPER_ENABLED", "false")

	cfg := Load()

	if cfg.Database.Driver != "pgx" {
		t.Errorf("expected pgx, got %s", cfg.Database.Driver)
	}
	if cfg.Dispatch.MaxCandidates != 3 {
		t.Errorf("expected 3, got %d", cfg.Dispatch.MaxCandidates)
	}
	if cfg.Dispatch.MaxRadiusMeters != 1500.5 {
		t.Errorf("expected 1500.5, got %v", cfg.Dispatch.MaxRadiusMeters)
	}
	if cfg.Dispatch.CompensationTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Dispatch.CompensationTimeout)
	}
	if got := strings.Join(cfg.Notifier.KafkaBrokers, ","); got != "k1:9092,k2:9092" {
		t.Errorf("unexpected brokers %q", got)
	}
	if cfg.Sweeper.Enabled {
		t.Error("expected sweeper disabled")
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DISPATCH_MAX_CANDIDATES", "many")
	t.Setenv("SWEEPER_INTERVAL", "soon")

	cfg := Load()

	if cfg.Dispatch.MaxCandidates != 10 {
		t.Errorf("expected fallback 10, got %d", cfg.Dispatch.MaxCandidates)
	}
	if cfg.Sweeper.Interval != 30*time.Second {
		t.Errorf("expected fallback 30s, got %v", cfg.Sweeper.Interval)
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := Load()
	cfg.Database.Driver = "mysql"
	cfg.Dispatch.MaxCandidates = 0
	cfg.Sweeper.ReservationTTL = time.Second
	cfg.NewRelic.Enabled = true
	cfg.NewRelic.LicenseKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{"DB_DRIVER", "DISPATCH_MAX_CANDIDATES", "SWEEPER_RESERVATION_TTL", "NEW_RELIC_LICENSE_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_ReservationTTLCoversDispatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		ttl     time.Duration
		wantErr bool
	}{
		{"equal to dispatch plus compensation", 15 * time.Second, true},
		{"above dispatch plus compensation", 16 * time.Second, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Load()
			cfg.Dispatch.Timeout = 10 * time.Second
			cfg.Dispatch.CompensationTimeout = 5 * time.Second
			cfg.Server.WriteTimeout = time.Hour
			cfg.Sweeper.ReservationTTL = tc.ttl

			err := cfg.Validate()
			if got := err != nil && strings.Contains(err.Error(), "DISPATCH_TIMEOUT"); got != tc.wantErr {
				t.Errorf("expected TTL error %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	dsn := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}.DSN()
	if dsn != "host=db port=5432 user=u password=p dbname=d sslmode=disable" {
		t.Errorf("unexpected dsn %q", dsn)
	}
}
