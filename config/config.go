package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"backupsync/internal/models"
)

type Config struct {
	// Source
	OutputDir       string
	UserAgent       string
	SourceHealthURL string

	// Targets
	Targets     []string
	TargetsFile string

	// Storage
	StorageEnabled bool
	ApiURL         string
	AccessKey      string
	SecretKey      string
	BucketName     string
	Region         string
	StoragePrefix  string
	StorageArchive bool

	// Database
	DatabaseEnabled bool
	DatabaseURL     string
	DatabaseTable   string

	// Vault
	VaultEnabled bool
	VaultDir     string
	VaultFolder  string

	// Run
	DownloadConcurrency int
	SyncConcurrency     int
	ReportDir           string
	LogLevel            string
	LogFormat           string
}

// DestinationConfig is one destination variant as configured, in run order.
type DestinationConfig struct {
	Kind    models.DestinationKind
	Enabled bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using environment variables only")
	}

	config := &Config{
		OutputDir:       getEnv("SOURCE_OUTPUT_DIR", "./downloads"),
		UserAgent:       getEnv("SOURCE_USER_AGENT", "backupsync/1.0"),
		SourceHealthURL: getEnv("SOURCE_HEALTH_URL", ""),

		Targets:     splitList(getEnv("TARGETS", "")),
		TargetsFile: getEnv("TARGETS_FILE", ""),

		StorageEnabled: getEnvBool("STORAGE_ENABLED", false),
		ApiURL:         getEnv("API_URL", ""),
		AccessKey:      getEnv("ACCESS_KEY", ""),
		SecretKey:      getEnv("SECRET_KEY", ""),
		BucketName:     getEnv("BUCKET_NAME", ""),
		Region:         getEnv("REGION", ""),
		StoragePrefix:  getEnv("STORAGE_PREFIX", "backups"),
		StorageArchive: getEnvBool("STORAGE_ARCHIVE", false),

		DatabaseEnabled: getEnvBool("DATABASE_ENABLED", false),
		DatabaseURL:     getEnv("DB_URL", ""),
		DatabaseTable:   getEnv("DB_TABLE", "backup_records"),

		VaultEnabled: getEnvBool("VAULT_ENABLED", false),
		VaultDir:     getEnv("VAULT_DIR", ""),
		VaultFolder:  getEnv("VAULT_FOLDER", "Backups"),

		DownloadConcurrency: getEnvInt("DOWNLOAD_CONCURRENCY", 1),
		SyncConcurrency:     getEnvInt("SYNC_CONCURRENCY", 1),
		ReportDir:           getEnv("REPORT_DIR", "./reports"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}

	return config, nil
}

// Destinations returns every destination variant in run order: storage,
// database, vault.
func (c *Config) Destinations() []DestinationConfig {
	return []DestinationConfig{
		{Kind: models.KindStorage, Enabled: c.StorageEnabled},
		{Kind: models.KindDatabase, Enabled: c.DatabaseEnabled},
		{Kind: models.KindVault, Enabled: c.VaultEnabled},
	}
}

// Validate checks the run settings and every enabled destination.
func (c *Config) Validate() error {
	errs := []error{c.ValidateRun()}
	for _, d := range c.Destinations() {
		if d.Enabled {
			errs = append(errs, c.CheckDestination(d.Kind))
		}
	}
	return errors.Join(errs...)
}

// ValidateRun checks the settings every run needs regardless of destinations.
func (c *Config) ValidateRun() error {
	var errs []error
	if c.OutputDir == "" {
		errs = append(errs, errors.New("SOURCE_OUTPUT_DIR must not be empty"))
	}
	if c.DownloadConcurrency < 1 || c.SyncConcurrency < 1 {
		errs = append(errs, errors.New("concurrency values must be at least 1"))
	}
	return errors.Join(errs...)
}

type setting struct {
	key   string
	value string
}

// CheckDestination reports the settings a destination of the given kind is
// missing, in a fixed key order.
func (c *Config) CheckDestination(kind models.DestinationKind) error {
	var required []setting
	switch kind {
	case models.KindStorage:
		required = []setting{
			{"ACCESS_KEY", c.AccessKey},
			{"SECRET_KEY", c.SecretKey},
			{"BUCKET_NAME", c.BucketName},
			{"REGION", c.Region},
		}
	case models.KindDatabase:
		required = []setting{
			{"DB_URL", c.DatabaseURL},
			{"DB_TABLE", c.DatabaseTable},
		}
	case models.KindVault:
		required = []setting{{"VAULT_DIR", c.VaultDir}}
	default:
		return fmt.Errorf("unknown destination kind %q", kind)
	}

	var errs []error
	for _, s := range required {
		if s.value == "" {
			errs = append(errs, fmt.Errorf("%s is enabled but %s is not set", kind, s.key))
		}
	}
	return errors.Join(errs...)
}

// LoadTargets merges TARGETS with the entries of TARGETS_FILE. Blank lines and
// lines starting with # are skipped. Order is preserved and duplicates are
// kept.
func (c *Config) LoadTargets() ([]string, error) {
	targets := append([]string(nil), c.Targets...)
	if c.TargetsFile == "" {
		return targets, nil
	}
	fromFile, err := ReadTargetsFile(c.TargetsFile)
	if err != nil {
		return nil, err
	}
	return append(targets, fromFile...), nil
}

func ReadTargetsFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer file.Close()

	var targets []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	return targets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
