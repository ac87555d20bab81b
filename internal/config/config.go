package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Guard     GuardConfig     `yaml:"guard" mapstructure:"guard"`
	Send      SendConfig      `yaml:"send" mapstructure:"send"`
	SMTP      SMTPConfig      `yaml:"smtp" mapstructure:"smtp"`
	Mailbox   MailboxConfig   `yaml:"mailbox" mapstructure:"mailbox"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SearchConfig holds the search/reader API settings.
type SearchConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	RateLimit     int    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec
}

// DiscoveryConfig bounds the discovery phase.
type DiscoveryConfig struct {
	MaxQueriesPerRun   int      `yaml:"max_queries_per_run" mapstructure:"max_queries_per_run"`
	MaxLeadsPerRun     int      `yaml:"max_leads_per_run" mapstructure:"max_leads_per_run"`
	DirectoryBlocklist []string `yaml:"directory_blocklist" mapstructure:"directory_blocklist"`
}

// ExtractConfig configures the contact extraction phase.
type ExtractConfig struct {
	PagePaths       []string `yaml:"page_paths" mapstructure:"page_paths"`
	PageTimeoutSecs int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	BatchSize       int      `yaml:"batch_size" mapstructure:"batch_size"`
}

// GuardConfig configures deliverability protection.
type GuardConfig struct {
	DomainCooldownDays int     `yaml:"domain_cooldown_days" mapstructure:"domain_cooldown_days"`
	BounceRateCeiling  float64 `yaml:"bounce_rate_ceiling" mapstructure:"bounce_rate_ceiling"`
}

// SendConfig bounds the send phase. The randomized inter-send delay keeps
// volume from the same account from looking bursty.
type SendConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	MinDelaySecs int `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
	MaxDelaySecs int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
}

// SMTPConfig holds SMTP relay credentials for email_smtp accounts.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// MailboxConfig holds the OAuth mailbox API settings for email_oauth accounts.
type MailboxConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// GatewayConfig holds the messaging gateway used for SMS, social DMs,
// voice drops, and postal dispatch.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// OutreachConfig bounds cross-organization processing.
type OutreachConfig struct {
	OrgParallelism int    `yaml:"org_parallelism" mapstructure:"org_parallelism"`
	UnsubBaseURL   string `yaml:"unsub_base_url" mapstructure:"unsub_base_url"`
}

// ServerConfig configures the webhook/unsubscribe/stats server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the cron-driven daily cycle.
type ScheduleConfig struct {
	CycleSpec string `yaml:"cycle_spec" mapstructure:"cycle_spec"`
	ResetSpec string `yaml:"reset_spec" mapstructure:"reset_spec"`
}

// PolicyConfig points at the optional policy-table override file.
type PolicyConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("search.base_url", "https://r.jina.ai")
	v.SetDefault("search.search_base_url", "https://s.jina.ai")
	v.SetDefault("search.rate_limit", 5)
	v.SetDefault("discovery.max_queries_per_run", 10)
	v.SetDefault("discovery.max_leads_per_run", 100)
	v.SetDefault("discovery.directory_blocklist", []string{
		"yelp.com", "yellowpages.com", "tripadvisor.com", "facebook.com",
		"instagram.com", "linkedin.com", "ubereats.com", "doordash.com",
		"grubhub.com", "opentable.com",
	})
	v.SetDefault("extract.page_paths", []string{
		"/", "/contact", "/contact-us", "/about", "/about-us", "/legal", "/impressum",
	})
	v.SetDefault("extract.page_timeout_secs", 15)
	v.SetDefault("extract.batch_size", 50)
	v.SetDefault("guard.domain_cooldown_days", 7)
	v.SetDefault("guard.bounce_rate_ceiling", 0.05)
	v.SetDefault("send.batch_size", 50)
	v.SetDefault("send.min_delay_secs", 20)
	v.SetDefault("send.max_delay_secs", 90)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("outreach.org_parallelism", 1)
	v.SetDefault("schedule.cycle_spec", "0 9 * * *")
	v.SetDefault("schedule.reset_spec", "5 0 * * *")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
