package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	envPrefix = "STOREFRONT_"

	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultRequestTimeout = 20 * time.Second

	defaultProductsCollection   = "products"
	defaultServicesCollection   = "services"
	defaultCategoriesCollection = "categories"
	defaultDialTimeout          = 10 * time.Second

	defaultRemoteTimeout = 1500 * time.Millisecond
	defaultCoolDown      = 60 * time.Second
	defaultCacheTTL      = 5 * time.Minute

	defaultCurrency      = "PEN"
	defaultCartID        = "local-cart"
	defaultCartKey       = "cart"
	defaultCartDriver    = "memory"
	defaultBoltPath      = "storefront.db"
	defaultBoltBucket    = "storefront"
	defaultRedisAddr     = "localhost:6379"
	defaultRedisPrefix   = "storefront:"
	defaultRedisTTL      = 30 * 24 * time.Hour
	defaultSessionCookie = "storefront_session"

	defaultCartRateLimit  = 120
	defaultCartRateWindow = time.Minute
	defaultIdempotencyTTL = 24 * time.Hour

	defaultLogLevel      = "info"
	defaultLogMaxSizeMB  = 64
	defaultLogMaxBackups = 7
	defaultLogMaxAgeDays = 14
)

// Cart storage drivers accepted by Cart.Driver.
const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Catalog   CatalogConfig
	Cart      CartConfig
	Logging   LoggingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirestoreConfig stores remote catalog database parameters.
type FirestoreConfig struct {
	ProjectID            string
	EmulatorHost         string
	CredentialsFile      string
	DialTimeout          time.Duration
	ProductsCollection   string
	ServicesCollection   string
	CategoriesCollection string
}

// Enabled reports whether a remote catalog store is configured at all.
func (c FirestoreConfig) Enabled() bool {
	return strings.TrimSpace(c.ProjectID) != "" || strings.TrimSpace(c.EmulatorHost) != ""
}

// CatalogConfig tunes the resilient catalog reader.
type CatalogConfig struct {
	RemoteTimeout   time.Duration
	CoolDown        time.Duration
	CacheTTL        time.Duration
	SeedOnStart     bool
	SnapshotEnabled bool
}

// CartConfig controls cart identity and the client-local storage adapter.
type CartConfig struct {
	ID                string
	Currency          string
	StorageKey        string
	Driver            string
	BoltPath          string
	BoltBucket        string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string
	RedisTTL          time.Duration
	SessionCookie     string
	BackgroundRefresh bool

	// RateLimit caps cart mutations per session within RateWindow. Zero disables the limit.
	RateLimit      int
	RateWindow     time.Duration
	IdempotencyTTL time.Duration
}

// LoggingConfig controls the structured logger sinks.
type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
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

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables
// and any explicit map, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

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
			RequestTimeout: durationWithDefault(lookup, "SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:            stringWithDefault(lookup, "FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:         stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile:      stringWithDefault(lookup, "FIRESTORE_CREDENTIALS_FILE", ""),
			DialTimeout:          durationWithDefault(lookup, "FIRESTORE_DIAL_TIMEOUT", defaultDialTimeout),
			ProductsCollection:   stringWithDefault(lookup, "FIRESTORE_PRODUCTS_COLLECTION", defaultProductsCollection),
			ServicesCollection:   stringWithDefault(lookup, "FIRESTORE_SERVICES_COLLECTION", defaultServicesCollection),
			CategoriesCollection: stringWithDefault(lookup, "FIRESTORE_CATEGORIES_COLLECTION", defaultCategoriesCollection),
		},
		Catalog: CatalogConfig{
			RemoteTimeout:   durationWithDefault(lookup, "CATALOG_REMOTE_TIMEOUT", defaultRemoteTimeout),
			CoolDown:        durationWithDefault(lookup, "CATALOG_COOL_DOWN", defaultCoolDown),
			CacheTTL:        durationWithDefault(lookup, "CATALOG_CACHE_TTL", defaultCacheTTL),
			SeedOnStart:     boolWithDefault(lookup, "CATALOG_SEED_ON_START", false),
			SnapshotEnabled: boolWithDefault(lookup, "CATALOG_SNAPSHOT_ENABLED", true),
		},
		Cart: CartConfig{
			ID:                stringWithDefault(lookup, "CART_ID", defaultCartID),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "CART_CURRENCY", defaultCurrency)),
			StorageKey:        stringWithDefault(lookup, "CART_STORAGE_KEY", defaultCartKey),
			Driver:            strings.ToLower(stringWithDefault(lookup, "CART_DRIVER", defaultCartDriver)),
			BoltPath:          stringWithDefault(lookup, "CART_BOLT_PATH", defaultBoltPath),
			BoltBucket:        stringWithDefault(lookup, "CART_BOLT_BUCKET", defaultBoltBucket),
			RedisAddr:         stringWithDefault(lookup, "CART_REDIS_ADDR", defaultRedisAddr),
			RedisPassword:     stringWithDefault(lookup, "CART_REDIS_PASSWORD", ""),
			RedisDB:           intWithDefault(lookup, "CART_REDIS_DB", 0),
			RedisPrefix:       stringWithDefault(lookup, "CART_REDIS_PREFIX", defaultRedisPrefix),
			RedisTTL:          durationWithDefault(lookup, "CART_REDIS_TTL", defaultRedisTTL),
			SessionCookie:     stringWithDefault(lookup, "CART_SESSION_COOKIE", defaultSessionCookie),
			BackgroundRefresh: boolWithDefault(lookup, "CART_BACKGROUND_REFRESH", true),
			RateLimit:         intWithDefault(lookup, "CART_RATE_LIMIT", defaultCartRateLimit),
			RateWindow:        durationWithDefault(lookup, "CART_RATE_WINDOW", defaultCartRateWindow),
			IdempotencyTTL:    durationWithDefault(lookup, "CART_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
			File:       stringWithDefault(lookup, "LOG_FILE", ""),
			MaxSizeMB:  intWithDefault(lookup, "LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
			MaxBackups: intWithDefault(lookup, "LOG_MAX_BACKUPS", defaultLogMaxBackups),
			MaxAgeDays: intWithDefault(lookup, "LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Catalog.RemoteTimeout <= 0 {
		missing = append(missing, "Catalog.RemoteTimeout")
	}
	if cfg.Catalog.CoolDown <= 0 {
		missing = append(missing, "Catalog.CoolDown")
	}
	if cfg.Catalog.CacheTTL <= 0 {
		missing = append(missing, "Catalog.CacheTTL")
	}
	if len(cfg.Cart.Currency) != 3 {
		missing = append(missing, "Cart.Currency")
	}
	if strings.TrimSpace(cfg.Cart.StorageKey) == "" {
		missing = append(missing, "Cart.StorageKey")
	}
	if cfg.Cart.RateLimit < 0 {
		missing = append(missing, "Cart.RateLimit")
	}
	if cfg.Cart.RateLimit > 0 && cfg.Cart.RateWindow <= 0 {
		missing = append(missing, "Cart.RateWindow")
	}
	if cfg.Cart.IdempotencyTTL <= 0 {
		missing = append(missing, "Cart.IdempotencyTTL")
	}
	switch cfg.Cart.Driver {
	case DriverMemory:
	case DriverBolt:
		if strings.TrimSpace(cfg.Cart.BoltPath) == "" {
			missing = append(missing, "Cart.BoltPath")
		}
	case DriverRedis:
		if strings.TrimSpace(cfg.Cart.RedisAddr) == "" {
			missing = append(missing, "Cart.RedisAddr")
		}
	default:
		missing = append(missing, "Cart.Driver")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := cast.ToDurationE(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := cast.ToIntE(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		if parsed, err := cast.ToBoolE(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
