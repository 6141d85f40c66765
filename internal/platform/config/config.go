package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envPrefix              = "STOREFRONT_"
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMutationLimit   = 30
	defaultMutationWindow  = time.Minute
	defaultBackendTimeout  = 10 * time.Second
	defaultBackendRate     = 20.0
	defaultBackendBurst    = 10
	defaultLocale          = "en"
	defaultLocaleDir       = ""
	defaultCheckoutBackend = CheckoutProviderBackend
	defaultChallengeTTL    = 30 * time.Minute
)

// Checkout providers.
const (
	CheckoutProviderBackend = "backend"
	CheckoutProviderStripe  = "stripe"
)

var defaultSupportedLocales = []string{"en", "es", "pt"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Locale     LocaleConfig
	Plans      PlansConfig
	Checkout   CheckoutConfig
	Challenges ChallengesConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MutationLimit is the per-visitor burst of checkout and submission calls, refilled over MutationWindow.
	// Zero disables throttling.
	MutationLimit  int
	MutationWindow time.Duration
}

// BackendConfig points at the upstream content API.
type BackendConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// LocaleConfig controls message catalogs and locale negotiation.
type LocaleConfig struct {
	Default   string
	Supported []string
	// Dir overrides the embedded catalogs when set.
	Dir string
}

// PlansConfig customises plan presentation.
type PlansConfig struct {
	LabelsFile string
}

// CheckoutConfig selects the checkout-session adapter.
type CheckoutConfig struct {
	Provider     string
	StripeAPIKey string
	SuccessURL   string
	CancelURL    string
}

// ChallengesConfig bounds in-memory challenge flow retention.
type ChallengesConfig struct {
	StateTTL time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the storefront configuration by combining defaults, .env overrides,
// environment variables, and explicit maps.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		key = envPrefix + key
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			MutationLimit:  intWithDefault(lookup, "SERVER_MUTATION_LIMIT", defaultMutationLimit),
			MutationWindow: durationWithDefault(lookup, "SERVER_MUTATION_WINDOW", defaultMutationWindow),
		},
		Backend: BackendConfig{
			BaseURL:    strings.TrimSpace(stringWithDefault(lookup, "BACKEND_BASE_URL", "")),
			Timeout:    durationWithDefault(lookup, "BACKEND_TIMEOUT", defaultBackendTimeout),
			RatePerSec: floatWithDefault(lookup, "BACKEND_RATE_PER_SEC", defaultBackendRate),
			Burst:      intWithDefault(lookup, "BACKEND_BURST", defaultBackendBurst),
		},
		Locale: LocaleConfig{
			Default:   strings.ToLower(stringWithDefault(lookup, "LOCALE_DEFAULT", defaultLocale)),
			Supported: csvWithDefault(lookup, "LOCALE_SUPPORTED"),
			Dir:       stringWithDefault(lookup, "LOCALE_DIR", defaultLocaleDir),
		},
		Plans: PlansConfig{
			LabelsFile: stringWithDefault(lookup, "PLAN_LABELS_FILE", ""),
		},
		Checkout: CheckoutConfig{
			Provider:     strings.ToLower(stringWithDefault(lookup, "CHECKOUT_PROVIDER", defaultCheckoutBackend)),
			StripeAPIKey: stringWithDefault(lookup, "STRIPE_API_KEY", ""),
			SuccessURL:   stringWithDefault(lookup, "CHECKOUT_SUCCESS_URL", ""),
			CancelURL:    stringWithDefault(lookup, "CHECKOUT_CANCEL_URL", ""),
		},
		Challenges: ChallengesConfig{
			StateTTL: durationWithDefault(lookup, "CHALLENGE_STATE_TTL", defaultChallengeTTL),
		},
	}

	if len(cfg.Locale.Supported) == 0 {
		cfg.Locale.Supported = append([]string(nil), defaultSupportedLocales...)
	}
	for i, lang := range cfg.Locale.Supported {
		cfg.Locale.Supported[i] = strings.ToLower(lang)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.MutationLimit < 0 {
		missing = append(missing, "Server.MutationLimit")
	}
	if cfg.Server.MutationLimit > 0 && cfg.Server.MutationWindow <= 0 {
		missing = append(missing, "Server.MutationWindow")
	}
	if !isHTTPURL(cfg.Backend.BaseURL) {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	if cfg.Backend.RatePerSec < 0 {
		missing = append(missing, "Backend.RatePerSec")
	}
	if !contains(cfg.Locale.Supported, cfg.Locale.Default) {
		missing = append(missing, "Locale.Default")
	}
	switch cfg.Checkout.Provider {
	case CheckoutProviderBackend:
	case CheckoutProviderStripe:
		if strings.TrimSpace(cfg.Checkout.StripeAPIKey) == "" {
			missing = append(missing, "Checkout.StripeAPIKey")
		}
		if cfg.Checkout.SuccessURL == "" {
			missing = append(missing, "Checkout.SuccessURL")
		}
		if cfg.Checkout.CancelURL == "" {
			missing = append(missing, "Checkout.CancelURL")
		}
	default:
		missing = append(missing, "Checkout.Provider")
	}
	if cfg.Challenges.StateTTL <= 0 {
		missing = append(missing, "Challenges.StateTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
