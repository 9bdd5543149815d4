package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STOREFRONT_HTTP_ADDR.
// Fields with an envconfig tag also accept the bare tag name (SUPABASE_URL).
const EnvPrefix = "STOREFRONT"

type Config struct {
	HTTPAddr       string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	GRPCAddr       string `yaml:"grpc_addr" envconfig:"GRPC_ADDR"`
	EndpointPrefix string `yaml:"endpoint_prefix" envconfig:"SERVICE_ENDPOINT_PREFIX"`
	AppURL         string `yaml:"app_url" envconfig:"APP_URL"`
	DatabaseURL    string `yaml:"database_url" envconfig:"DATABASE_URL"`
	AutoMigrate    bool   `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`

	// Identity provider. With JWTSecret set, bearer tokens are verified
	// locally; otherwise each token is checked against the Supabase auth API.
	SupabaseURL            string `yaml:"supabase_url" envconfig:"SUPABASE_URL"`
	SupabaseAnonKey        string `yaml:"supabase_anon_key" envconfig:"SUPABASE_ANON_KEY"`
	SupabaseServiceRoleKey string `yaml:"supabase_service_role_key" envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret              string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`

	StripeSecretKey     string `yaml:"stripe_secret_key" envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret" envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeCurrency      string `yaml:"stripe_currency" envconfig:"STRIPE_CURRENCY"`

	TaxRate           string `yaml:"tax_rate" envconfig:"TAX_RATE"`
	RejectUnavailable bool   `yaml:"reject_unavailable" envconfig:"CHECKOUT_REJECT_UNAVAILABLE"`

	StorageBucket    string        `yaml:"storage_bucket" envconfig:"STORAGE_BUCKET"`
	Signer           string        `yaml:"signer" envconfig:"DOWNLOAD_SIGNER"` // supabase | local
	EntitlementScope string        `yaml:"entitlement_scope" envconfig:"ENTITLEMENT_SCOPE"`
	DownloadURLTTL   time.Duration `yaml:"download_url_ttl" envconfig:"DOWNLOAD_URL_TTL"`
	AssetDir         string        `yaml:"asset_dir" envconfig:"ASSET_DIR"`
	AssetSecret      string        `yaml:"asset_secret" envconfig:"ASSET_SECRET"`

	OutboundTimeout time.Duration `yaml:"outbound_timeout" envconfig:"OUTBOUND_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	KafkaBrokers []string `yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`

	ConsulAddr    string `yaml:"consul_addr" envconfig:"CONSUL_ADDR"`
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	AdvertiseHost string `yaml:"advertise_host" envconfig:"ADVERTISE_HOST"`
}

const (
	SignerSupabase = "supabase"
	SignerLocal    = "local"
)

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		EndpointPrefix:   "/v1",
		StripeCurrency:   "usd",
		TaxRate:          "0.10",
		Signer:           SignerSupabase,
		EntitlementScope: "latest",
		DownloadURLTTL:   300 * time.Second,
		OutboundTimeout:  10 * time.Second,
		AllowedOrigins:   []string{"*"},
		ServiceName:      "storefront",
	}
}

// Load builds the configuration from defaults, then an optional YAML file,
// then the process environment. A .env file, when present, seeds the
// environment without overriding variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would make the process itself unusable.
// Values needed only by individual endpoints are checked per request.
func (c Config) Validate() error {
	if _, err := c.Tax(); err != nil {
		return err
	}
	switch c.EntitlementScope {
	case "latest", "any":
	default:
		return fmt.Errorf("invalid entitlement scope %q", c.EntitlementScope)
	}
	switch c.Signer {
	case SignerSupabase, SignerLocal:
	default:
		return fmt.Errorf("invalid download signer %q", c.Signer)
	}
	if c.DownloadURLTTL <= 0 {
		return fmt.Errorf("download url ttl must be positive")
	}
	return nil
}

// Tax parses the configured tax rate.
func (c Config) Tax() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("tax rate must not be negative")
	}
	return rate, nil
}

// MissingForCheckout lists the settings the checkout endpoint cannot run without.
func (c Config) MissingForCheckout() []string {
	return missing(map[string]string{
		"SUPABASE_URL":              c.SupabaseURL,
		"SUPABASE_ANON_KEY":         c.SupabaseAnonKey,
		"SUPABASE_SERVICE_ROLE_KEY": c.SupabaseServiceRoleKey,
		"STRIPE_SECRET_KEY":         c.StripeSecretKey,
	})
}

// MissingForDownloads lists the settings the download endpoint cannot run without.
func (c Config) MissingForDownloads() []string {
	required := map[string]string{
		"SUPABASE_URL":              c.SupabaseURL,
		"SUPABASE_ANON_KEY":         c.SupabaseAnonKey,
		"SUPABASE_SERVICE_ROLE_KEY": c.SupabaseServiceRoleKey,
		"STORAGE_BUCKET":            c.StorageBucket,
	}
	if c.Signer == SignerLocal {
		required["ASSET_DIR"] = c.AssetDir
		required["ASSET_SECRET"] = c.AssetSecret
	}
	return missing(required)
}

// MissingForWebhook lists the settings the payment webhook cannot run without.
func (c Config) MissingForWebhook() []string {
	return missing(map[string]string{
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
	})
}

func missing(values map[string]string) []string {
	var names []string
	for name, v := range values {
		if v == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
