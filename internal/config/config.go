// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type OIDC struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (o OIDC) Enabled() bool {
	return o.IssuerURL != "" && o.ClientID != ""
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
}

func (s Stripe) Enabled() bool {
	return s.SecretKey != ""
}

type S3 struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

func (s S3) Enabled() bool {
	return s.Bucket != ""
}

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	BaseURL   string

	AccessTimeout    time.Duration
	CompletionFields []string
	SuperAdminEmails []string
	SecureCookies    bool

	OIDC   OIDC
	Stripe Stripe
	S3     S3
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	port := getEnv("DAYBOARD_PORT", "8080")
	baseURL := strings.TrimRight(getEnv("DAYBOARD_BASE_URL", "http://localhost:"+port), "/")

	timeout, err := getEnvDuration("DAYBOARD_ACCESS_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}
	secure, err := getEnvBool("DAYBOARD_SECURE_COOKIES", strings.HasPrefix(baseURL, "https://"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             port,
		DBPath:           getEnv("DAYBOARD_DB_PATH", "dayboard.db"),
		LogLevel:         getEnv("DAYBOARD_LOG_LEVEL", "info"),
		LogFormat:        getEnv("DAYBOARD_LOG_FORMAT", "text"),
		BaseURL:          baseURL,
		AccessTimeout:    timeout,
		CompletionFields: getEnvList("DAYBOARD_COMPLETION_FIELDS"),
		SuperAdminEmails: getEnvList("DAYBOARD_SUPER_ADMIN_EMAILS"),
		SecureCookies:    secure,
		OIDC: OIDC{
			IssuerURL:    os.Getenv("DAYBOARD_OIDC_ISSUER"),
			ClientID:     os.Getenv("DAYBOARD_OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("DAYBOARD_OIDC_CLIENT_SECRET"),
			RedirectURL:  getEnv("DAYBOARD_OIDC_REDIRECT_URL", baseURL+"/auth/oidc/callback"),
		},
		Stripe: Stripe{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		S3: S3{
			Endpoint:  os.Getenv("DAYBOARD_S3_ENDPOINT"),
			Region:    getEnv("DAYBOARD_S3_REGION", "us-east-1"),
			Bucket:    os.Getenv("DAYBOARD_S3_BUCKET"),
			AccessKey: os.Getenv("DAYBOARD_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("DAYBOARD_S3_SECRET_KEY"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("DAYBOARD_PORT: %q is not a number", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DAYBOARD_DB_PATH is empty"))
	}
	if c.AccessTimeout <= 0 {
		errs = append(errs, errors.New("DAYBOARD_ACCESS_TIMEOUT must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("DAYBOARD_LOG_FORMAT: %q is not text or json", c.LogFormat))
	}
	if c.OIDC.IssuerURL != "" && (c.OIDC.ClientID == "" || c.OIDC.ClientSecret == "") {
		errs = append(errs, errors.New("DAYBOARD_OIDC_ISSUER set without client id and secret"))
	}
	if c.S3.Enabled() && (c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		errs = append(errs, errors.New("DAYBOARD_S3_BUCKET set without access key and secret"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("750ms") or whole seconds ("3").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := getEnvInt(key, 0); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
