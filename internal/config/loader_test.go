package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
Origin = "http://127.0.0.1:8787"
Version = "abc12345"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("default listen port mismatch: %d", cfg.Global.ListenPort)
	}
	if cfg.Global.MaxAge.DurationValue() != time.Minute {
		t.Fatalf("default max-age mismatch: %v", cfg.Global.MaxAge.DurationValue())
	}
	if cfg.Global.FragmentTimeout.DurationValue() != 2*time.Second {
		t.Fatalf("default fragment timeout mismatch: %v", cfg.Global.FragmentTimeout.DurationValue())
	}
	if cfg.Global.FragmentMarker != "/_f/" {
		t.Fatalf("default fragment marker mismatch: %s", cfg.Global.FragmentMarker)
	}
	if cfg.Global.StoreBackend != "memory" {
		t.Fatalf("default backend mismatch: %s", cfg.Global.StoreBackend)
	}
	if cfg.Global.Mode() != PrecacheModeActivate {
		t.Fatalf("default precache mode mismatch: %s", cfg.Global.Mode())
	}
}

func TestLoadParsesDurationVariants(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
MaxAge = "5m"
FragmentTimeout = 1
UpstreamTimeout = "45s"
`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Global.MaxAge.DurationValue() != 5*time.Minute {
		t.Fatalf("max-age mismatch: %v", cfg.Global.MaxAge.DurationValue())
	}
	if cfg.Global.FragmentTimeout.DurationValue() != time.Second {
		t.Fatalf("fragment timeout mismatch: %v", cfg.Global.FragmentTimeout.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("upstream timeout mismatch: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	_, err := Load(writeConfig(t, `
Origin = "http://127.0.0.1:8787"
`))
	if err == nil {
		t.Fatalf("expected error for missing version tag")
	}
}

func TestLoadRejectsBadOrigin(t *testing.T) {
	for _, origin := range []string{"", "ftp://example.com", "://bad"} {
		_, err := Load(writeConfig(t, `
Origin = "`+origin+`"
Version = "abc12345"
`))
		if err == nil {
			t.Fatalf("expected error for origin %q", origin)
		}
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
StoreBackend = "redis"
`))
	if err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}

func TestLoadRequiresStoragePathForLevelDB(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
StoreBackend = "leveldb"
`))
	if err == nil {
		t.Fatalf("expected error for leveldb without storage path")
	}

	cfg, err := Load(writeConfig(t, minimalConfig+`
StoreBackend = "leveldb"
StoragePath = "./cache-data"
`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("storage path must be made absolute, got %s", cfg.Global.StoragePath)
	}
}

func TestLoadRejectsBadPrecacheMode(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
PrecacheMode = "eager"
`))
	if err == nil {
		t.Fatalf("expected error for unsupported precache mode")
	}
}

func TestLoadRejectsRelativePrecachePath(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
Precache = ["style.css"]
`))
	if err == nil {
		t.Fatalf("expected error for relative precache path")
	}
}

func TestLoadRejectsDuplicateLocale(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
[[Locale]]
Name = "ja"
Paths = ["/index.html"]

[[Locale]]
Name = "ja"
Paths = ["/kana.html"]
`))
	if err == nil {
		t.Fatalf("expected error for duplicate locale")
	}
}
