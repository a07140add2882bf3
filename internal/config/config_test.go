package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("CF_CAPTCHA_KEY", "captcha-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClientIPHeader != "CF-Connecting-IP" {
		t.Fatalf("unexpected client ip header %q", cfg.ClientIPHeader)
	}
	if cfg.GlyphWidth != 40 || cfg.NameWidthBudget != 350 || cfg.MajorWidthBudget != 450 || cfg.DegreeWidthBudget != 450 {
		t.Fatalf("unexpected layout defaults: %+v", cfg)
	}
	if cfg.AssetCache != CacheMemory || cfg.AssetCacheTTL != time.Hour {
		t.Fatalf("unexpected cache defaults: %q %v", cfg.AssetCache, cfg.AssetCacheTTL)
	}
	if cfg.ExposeErrorDetails {
		t.Fatal("error details must be hidden by default")
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("RESEND_API_KEY", "")
	t.Setenv("CF_CAPTCHA_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadRedisWithoutURL(t *testing.T) {
	setRequired(t)
	t.Setenv("ASSET_CACHE", CacheRedis)
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveLayout(t *testing.T) {
	setRequired(t)
	t.Setenv("LAYOUT_GLYPH_WIDTH", "0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "LAYOUT_GLYPH_WIDTH") {
		t.Fatalf("expected glyph width error, got %v", err)
	}
}
