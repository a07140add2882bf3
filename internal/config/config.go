// Package config loads the diploma service configuration from the environment.
// Every other package receives typed values and never reads os.Getenv itself.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the fully-parsed service configuration.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Secrets.
	ResendAPIKey  string `env:"RESEND_API_KEY,required,notEmpty"`
	CaptchaSecret string `env:"CF_CAPTCHA_KEY,required,notEmpty"`

	// Outbound endpoints.
	CaptchaVerifyURL string `env:"CAPTCHA_VERIFY_URL" envDefault:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	ResendAPIURL     string `env:"RESEND_API_URL" envDefault:"https://api.resend.com/emails"`

	// ClientIPHeader is the proxy header carrying the caller's address.
	ClientIPHeader string `env:"CLIENT_IP_HEADER" envDefault:"CF-Connecting-IP"`

	EmailFrom    string `env:"EMAIL_FROM" envDefault:"chicken@registrar.wcu.edu.pl"`
	EmailSubject string `env:"EMAIL_SUBJECT" envDefault:"Your Wild Chicken University Diploma"`

	// Asset locations: https://, gs://bucket/object or file:// URIs.
	TemplateURL  string `env:"TEMPLATE_URL" envDefault:"https://raw.githubusercontent.com/WildChickenUniversity/WildChickenUniversity/master/public/template_diploma.pdf"`
	LatinFontURL string `env:"LATIN_FONT_URL" envDefault:"https://raw.githubusercontent.com/WildChickenUniversity/WildChickenUniversity/master/public/fonts/Chomsky.ttf"`
	CJKFontURL   string `env:"CJK_FONT_URL" envDefault:"https://raw.githubusercontent.com/WildChickenUniversity/WildChickenUniversity/master/public/fonts/NotoSerifSC-Bold.ttf"`

	AssetCache    string        `env:"ASSET_CACHE" envDefault:"memory"`
	AssetCacheTTL time.Duration `env:"ASSET_CACHE_TTL" envDefault:"1h"`
	RedisURL      string        `env:"REDIS_URL"`

	CaptchaTimeout time.Duration `env:"CAPTCHA_TIMEOUT" envDefault:"10s"`
	AssetTimeout   time.Duration `env:"ASSET_TIMEOUT" envDefault:"30s"`
	EmailTimeout   time.Duration `env:"EMAIL_TIMEOUT" envDefault:"15s"`

	// Width heuristic used to shrink long field text.
	GlyphWidth        float64 `env:"LAYOUT_GLYPH_WIDTH" envDefault:"40"`
	NameWidthBudget   float64 `env:"LAYOUT_NAME_BUDGET" envDefault:"350"`
	MajorWidthBudget  float64 `env:"LAYOUT_MAJOR_BUDGET" envDefault:"450"`
	DegreeWidthBudget float64 `env:"LAYOUT_DEGREE_BUDGET" envDefault:"450"`
	DefaultFontSize   float64 `env:"LAYOUT_DEFAULT_FONT_SIZE" envDefault:"24"`

	// FontDir is the base of the per-process directory embeddable fonts are
	// installed in. Empty means the system temp dir.
	FontDir string `env:"PDF_FONT_DIR"`

	// ExposeErrorDetails passes internal fault messages through to clients.
	// Only enable it for trusted callers.
	ExposeErrorDetails bool `env:"EXPOSE_ERROR_DETAILS" envDefault:"false"`
}

// Load parses the environment into a validated Config.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.AssetCache {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set when ASSET_CACHE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSET_CACHE %q", c.AssetCache))
	}

	for name, v := range map[string]float64{
		"LAYOUT_GLYPH_WIDTH":       c.GlyphWidth,
		"LAYOUT_NAME_BUDGET":       c.NameWidthBudget,
		"LAYOUT_MAJOR_BUDGET":      c.MajorWidthBudget,
		"LAYOUT_DEGREE_BUDGET":     c.DegreeWidthBudget,
		"LAYOUT_DEFAULT_FONT_SIZE": c.DefaultFontSize,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	return errors.Join(errs...)
}
