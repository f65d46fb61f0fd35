package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "DOODLEMAP"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "doodlemap.db"
	defaultMongoDatabase     = "doodlemap"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultSessionIssuer     = "tauth"
	defaultStoreTimeout      = 5 * time.Second
	defaultVoteRetryLimit    = 8
	defaultMaxContentBytes   = 1 << 20
	defaultAllowedOriginsCSV = "http://localhost:3000"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabasePath         string
	MongoURI             string
	MongoDatabase        string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	LogLevel             string
	StoreTimeout         time.Duration
	VoteRetryLimit       int
	MaxContentBytes      int
	AllowedOrigins       []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("store.timeout", defaultStoreTimeout)
	configViper.SetDefault("store.vote_retry_limit", defaultVoteRetryLimit)
	configViper.SetDefault("posts.max_content_bytes", defaultMaxContentBytes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOriginsCSV)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		MongoURI:             configViper.GetString("mongo.uri"),
		MongoDatabase:        configViper.GetString("mongo.database"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		LogLevel:             configViper.GetString("log.level"),
		StoreTimeout:         configViper.GetDuration("store.timeout"),
		VoteRetryLimit:       configViper.GetInt("store.vote_retry_limit"),
		MaxContentBytes:      configViper.GetInt("posts.max_content_bytes"),
		AllowedOrigins:       splitOrigins(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	// The user directory is stored in SQLite for either driver.
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
	case DriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}
	if c.VoteRetryLimit <= 0 {
		return fmt.Errorf("store.vote_retry_limit must be positive")
	}
	if c.MaxContentBytes <= 0 {
		return fmt.Errorf("posts.max_content_bytes must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	origins := []string{}
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
