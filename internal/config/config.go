package config

import (
	"strings"
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/validator"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Configuration is the full configuration surface of the billing engine
type Configuration struct {
	Deployment DeploymentConfig `mapstructure:"deployment" validate:"required"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Dunning    DunningConfig    `mapstructure:"dunning" validate:"required"`
	Invoice    InvoiceConfig    `mapstructure:"invoice" validate:"required"`
	Tax        TaxConfig        `mapstructure:"tax"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Email      EmailConfig      `mapstructure:"email"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

type DeploymentConfig struct {
	Mode string `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" default:":8080"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DunningConfig drives the retry scheduler for unpaid invoices
type DunningConfig struct {
	// Policy is the name of the active policy in Policies
	Policy string `mapstructure:"policy" validate:"required"`
	// Policies maps a policy name to ordered day offsets from invoice open
	Policies map[string][]int `mapstructure:"policies" validate:"required"`
	// MaxAttempts bounds total retries regardless of policy length
	MaxAttempts int `mapstructure:"max_attempts" validate:"gt=0"`
	// MarkUncollectible transitions the invoice to uncollectible on exhaust
	MarkUncollectible bool `mapstructure:"mark_uncollectible"`
	// SmartRetry spaces retries by decline reason instead of the raw offsets
	SmartRetry bool `mapstructure:"smart_retry"`
}

// ActivePolicy returns the configured offsets for the active policy name
func (c DunningConfig) ActivePolicy() []int {
	return c.Policies[c.Policy]
}

// InvoiceConfig controls numbering and payment terms
type InvoiceConfig struct {
	Prefix                string                    `mapstructure:"prefix" validate:"required"`
	Format                types.InvoiceNumberFormat `mapstructure:"format" validate:"required"`
	YearlyReset           bool                      `mapstructure:"yearly_reset"`
	StartSequence         int                       `mapstructure:"start_sequence"`
	Separator             string                    `mapstructure:"separator"`
	SuffixLength          int                       `mapstructure:"suffix_length" validate:"gt=0"`
	NetTermsDays          int                       `mapstructure:"net_terms_days" validate:"gte=0"`
	IncompleteMaxAttempts int                       `mapstructure:"incomplete_max_attempts" validate:"gt=0"`
}

// TaxConfig supplies the tax rates applied at finalize; rates are additive
type TaxConfig struct {
	// DefaultRates maps a rate name to a percentage, e.g. {"vat": 20}
	DefaultRates map[string]decimal.Decimal `mapstructure:"default_rates"`
	// Inclusive marks the supplied rates as already contained in line amounts
	Inclusive bool `mapstructure:"inclusive"`
}

type WebhookConfig struct {
	Topic             string        `mapstructure:"topic"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery_timeout"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	SuccessWindowSize int           `mapstructure:"success_window_size"`
	WorkerCount       int           `mapstructure:"worker_count"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
}

type WorkersConfig struct {
	CollectionPoolSize int    `mapstructure:"collection_pool_size"`
	AdvanceCron        string `mapstructure:"advance_cron"`
	DunningCron        string `mapstructure:"dunning_cron"`
}

type StripeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// NewConfig loads configuration from config files and environment variables
func NewConfig() (*Configuration, error) {
	v := viper.New()

	// .env is optional; real deployments inject environment variables
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithHint("Failed to read configuration file").
				Mark(ierr.ErrValidation)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to parse configuration").
			Mark(ierr.ErrValidation)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", "development")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("dunning.policy", "standard")
	v.SetDefault("dunning.policies", map[string][]int{
		"gentle":     {3, 7, 14},
		"standard":   {1, 3, 7, 14},
		"aggressive": {1, 2, 3, 5},
	})
	v.SetDefault("dunning.max_attempts", 4)
	v.SetDefault("dunning.mark_uncollectible", true)
	v.SetDefault("dunning.smart_retry", false)

	v.SetDefault("invoice.prefix", "INV")
	v.SetDefault("invoice.format", string(types.InvoiceNumberFormatYearSequential))
	v.SetDefault("invoice.yearly_reset", true)
	v.SetDefault("invoice.start_sequence", 1)
	v.SetDefault("invoice.separator", "-")
	v.SetDefault("invoice.suffix_length", 6)
	v.SetDefault("invoice.net_terms_days", 30)
	v.SetDefault("invoice.incomplete_max_attempts", 2)

	v.SetDefault("webhook.topic", "webhook_events")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.initial_backoff", 30*time.Second)
	v.SetDefault("webhook.backoff_multiplier", 2.0)
	v.SetDefault("webhook.delivery_timeout", 10*time.Second)
	v.SetDefault("webhook.rate_limit_rps", 10.0)
	v.SetDefault("webhook.success_window_size", 50)
	v.SetDefault("webhook.worker_count", 4)

	v.SetDefault("workers.collection_pool_size", 8)
	v.SetDefault("workers.advance_cron", "@every 1m")
	v.SetDefault("workers.dunning_cron", "@every 1m")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.sample_rate", 1.0)
}

// Validate checks the configuration for internal consistency
func (c *Configuration) Validate() error {
	if err := validator.ValidateRequest(c); err != nil {
		return err
	}

	if err := c.Invoice.Format.Validate(); err != nil {
		return err
	}

	if _, ok := c.Dunning.Policies[c.Dunning.Policy]; !ok {
		return ierr.NewErrorf("dunning policy %q is not defined", c.Dunning.Policy).
			WithHint("The active dunning policy must be present in dunning.policies").
			Mark(ierr.ErrValidation)
	}

	for name, offsets := range c.Dunning.Policies {
		last := 0
		for _, offset := range offsets {
			if offset <= last {
				return ierr.NewErrorf("dunning policy %q offsets must be strictly increasing", name).
					WithHint("Policy offsets are day counts from invoice open and must increase").
					Mark(ierr.ErrValidation)
			}
			last = offset
		}
	}

	for name, rate := range c.Tax.DefaultRates {
		if rate.IsNegative() {
			return ierr.NewErrorf("tax rate %q cannot be negative", name).
				WithHint("Tax rates are percentages and must be >= 0").
				Mark(ierr.ErrValidation)
		}
	}

	return nil
}
