package authapi

import "testing"

func TestLoadConfigFromEnv_Default(t *testing.T) {
	t.Setenv("TRIVECTOR_AUTH_MAX_BODY_BYTES", "")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes=%d want=%d", cfg.MaxBodyBytes, 1<<20)
	}
}

func TestLoadConfigFromEnv_Override(t *testing.T) {
	t.Setenv("TRIVECTOR_AUTH_MAX_BODY_BYTES", "2048")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 2048 {
		t.Fatalf("MaxBodyBytes=%d want=2048", cfg.MaxBodyBytes)
	}
}

func TestLoadConfigFromEnv_RejectsNonPositive(t *testing.T) {
	t.Setenv("TRIVECTOR_AUTH_MAX_BODY_BYTES", "-5")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes=%d want default %d", cfg.MaxBodyBytes, 1<<20)
	}
}
