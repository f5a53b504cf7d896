package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is built from defaults, then the optional TOML file named by
// SHIPFLOW_CONFIG, then environment variables. Later sources win.
type Config struct {
	Addr          string   `toml:"addr"`
	DatabaseURL   string   `toml:"database_url"`
	MigrationsDir string   `toml:"migrations_dir"`
	Admins        []string `toml:"admins"`
	JWTSecret     string   `toml:"jwt_secret"`
	TokenTTLSecs  int      `toml:"token_ttl_seconds"`
	CORSOrigin    string   `toml:"cors_origin"`
	LedgerDir     string   `toml:"ledger_dir"`
	MaxUploadMB   int      `toml:"max_upload_mb"`
	// Redis is optional; the activity feed is disabled without it.
	RedisURL string `toml:"redis_url"`
	// Meilisearch falls back to Postgres full-text search when unreachable.
	MeiliURL       string `toml:"meili_url"`
	MeiliMasterKey string `toml:"meili_master_key"`

	Blob BlobConfig `toml:"blob"`
	SMTP SMTPConfig `toml:"smtp"`
}

type BlobConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// SMTPConfig is empty by default; email is disabled if not configured.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	BaseURL  string `toml:"base_url"`
}

func Default() Config {
	return Config{
		Addr:           ":8787",
		DatabaseURL:    "",
		MigrationsDir:  "./db/migrations",
		Admins:         []string{},
		JWTSecret:      "shipflow-dev-secret",
		TokenTTLSecs:   43200,
		CORSOrigin:     "*",
		LedgerDir:      "./data/ledger",
		MaxUploadMB:    25,
		RedisURL:       "",
		MeiliURL:       "",
		MeiliMasterKey: "",
		Blob: BlobConfig{
			Bucket: "shipflow-documents",
		},
		SMTP: SMTPConfig{
			Port:     "587",
			FromName: "Shipflow",
		},
	}
}

// Load resolves the configuration for the API and CLI.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("SHIPFLOW_CONFIG")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: jwt_secret is required")
	}
	if c.TokenTTLSecs <= 0 {
		return fmt.Errorf("config: token_ttl_seconds must be positive, got %d", c.TokenTTLSecs)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("config: max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.Blob.Endpoint != "" && c.Blob.Bucket == "" {
		return errors.New("config: blob.bucket is required when blob.endpoint is set")
	}
	return nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSecs) * time.Second
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func overlayFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("SHIPFLOW_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.Admins = getenvList("SHIPFLOW_ADMINS", cfg.Admins)
	cfg.JWTSecret = getenv("SHIPFLOW_JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTLSecs = getenvInt("SHIPFLOW_TOKEN_TTL_SECONDS", cfg.TokenTTLSecs)
	cfg.CORSOrigin = getenv("SHIPFLOW_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.LedgerDir = getenv("SHIPFLOW_LEDGER_DIR", cfg.LedgerDir)
	cfg.MaxUploadMB = getenvInt("SHIPFLOW_MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)

	cfg.Blob.Endpoint = getenv("MINIO_ENDPOINT", cfg.Blob.Endpoint)
	cfg.Blob.AccessKey = getenv("MINIO_ACCESS_KEY", cfg.Blob.AccessKey)
	cfg.Blob.SecretKey = getenv("MINIO_SECRET_KEY", cfg.Blob.SecretKey)
	cfg.Blob.Bucket = getenv("MINIO_BUCKET", cfg.Blob.Bucket)
	cfg.Blob.UseSSL = getenvBool("MINIO_USE_SSL", cfg.Blob.UseSSL)

	cfg.SMTP.Host = getenv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getenv("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = getenv("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getenv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getenv("SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.FromName = getenv("SMTP_FROM_NAME", cfg.SMTP.FromName)
	cfg.SMTP.BaseURL = getenv("SHIPFLOW_BASE_URL", cfg.SMTP.BaseURL)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvList splits a comma separated value, dropping blanks.
func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
