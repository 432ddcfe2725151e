package config

import (
	"reflect"
	"testing"
	"time"
)

func TestExpandPrecacheMergesLocales(t *testing.T) {
	cfg := &Config{
		Precache: []string{"/", "/static/style.css"},
		Locales: []LocaleConfig{
			{Name: "ja", Paths: []string{"/index.html", "/_f/index.html"}},
			{Name: "my", Paths: []string{"index.html"}},
		},
	}

	expanded := cfg.ExpandPrecache()
	expected := []string{
		"/",
		"/static/style.css",
		"/ja/index.html",
		"/ja/_f/index.html",
		"/my/index.html",
	}
	if !reflect.DeepEqual(expanded, expected) {
		t.Fatalf("manifest mismatch:\n got %v\nwant %v", expanded, expected)
	}
}

func TestExpandPrecacheDropsDuplicates(t *testing.T) {
	cfg := &Config{
		Precache: []string{"/", "/"},
		Locales: []LocaleConfig{
			{Name: "ja", Paths: []string{"/index.html", "/index.html"}},
		},
	}

	expanded := cfg.ExpandPrecache()
	expected := []string{"/", "/ja/index.html"}
	if !reflect.DeepEqual(expanded, expected) {
		t.Fatalf("expected duplicates dropped, got %v", expanded)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"120": 120 * time.Second,
		"":    0,
	}
	for raw, expected := range cases {
		var d Duration
		if err := d.UnmarshalText([]byte(raw)); err != nil {
			t.Fatalf("unmarshal %q error: %v", raw, err)
		}
		if d.DurationValue() != expected {
			t.Fatalf("%q: expected %v got %v", raw, expected, d.DurationValue())
		}
	}

	var d Duration
	if err := d.UnmarshalText([]byte("abc")); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestModeNormalization(t *testing.T) {
	for raw, expected := range map[string]PrecacheMode{
		"install":  PrecacheModeInstall,
		"Install":  PrecacheModeInstall,
		"activate": PrecacheModeActivate,
		"":         PrecacheModeActivate,
	} {
		g := GlobalConfig{PrecacheMode: raw}
		if g.Mode() != expected {
			t.Fatalf("%q: expected %s got %s", raw, expected, g.Mode())
		}
	}
}
