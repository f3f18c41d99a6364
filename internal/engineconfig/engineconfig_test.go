package engineconfig

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxIterations != 1000 {
		t.Fatalf("expected default max iterations 1000, got %d", cfg.MaxIterations)
	}
	if cfg.CacheDir != "" {
		t.Fatalf("expected empty cache dir by default, got %q", cfg.CacheDir)
	}
	if cfg.VerifyReactorProvides {
		t.Fatalf("expected verify_reactor_provides to default to false")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BW_MAX_METADATA_ITERATIONS", "42")
	t.Setenv("BW_METADATA_CACHE_DIR", "/var/cache/bw")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxIterations != 42 {
		t.Fatalf("expected overridden max iterations 42, got %d", cfg.MaxIterations)
	}
	if cfg.CacheDir != "/var/cache/bw" {
		t.Fatalf("expected overridden cache dir, got %q", cfg.CacheDir)
	}
}

func TestLoadRejectsNonPositiveIterationCap(t *testing.T) {
	t.Setenv("BW_MAX_METADATA_ITERATIONS", "0")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected an error for a non-positive iteration cap")
	}
	var ive *InvalidValueError
	if iveVal, ok := err.(*InvalidValueError); ok {
		ive = iveVal
	}
	if ive == nil {
		t.Fatalf("expected *InvalidValueError, got %T: %v", err, err)
	}
}
