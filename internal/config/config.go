package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Plan source names accepted by PLAN_SOURCE.
const (
	SourceFile   = "file"
	SourceSQLite = "sqlite"
	SourceSheets = "sheets"
	SourceMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	MetricsEnabled     bool

	// Plan source
	PlanSource  string
	PlanDir     string
	DefaultPlan string

	// Database
	SQLiteDBPath string

	// AMQP (disabled when the URL is empty)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Plan cache
	PlanCacheSize int
	PlanCacheTTL  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),

		PlanSource:  getEnv("PLAN_SOURCE", SourceFile),
		PlanDir:     getEnv("PLAN_DIR", "."),
		DefaultPlan: getEnv("DEFAULT_PLAN", "plan.json"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/allocator.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "allocator"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "allocation_requests"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Plan"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		PlanCacheSize: getEnvInt("PLAN_CACHE_SIZE", 64),
		PlanCacheTTL:  getEnvDuration("PLAN_CACHE_TTL", 5*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate plan source
	validSources := []string{SourceFile, SourceSQLite, SourceSheets, SourceMemory}
	isValidSource := false
	for _, source := range validSources {
		if c.PlanSource == source {
			isValidSource = true
			break
		}
	}
	if !isValidSource {
		errors = append(errors, fmt.Sprintf("invalid plan source '%s': must be one of %v", c.PlanSource, validSources))
	}

	if strings.TrimSpace(c.DefaultPlan) == "" {
		errors = append(errors, "default plan name cannot be empty")
	}

	if c.PlanSource == SourceFile {
		if c.PlanDir == "" {
			errors = append(errors, "plan directory cannot be empty when using file source")
		} else if info, err := os.Stat(c.PlanDir); err != nil {
			errors = append(errors, fmt.Sprintf("plan directory '%s' is not accessible: %v", c.PlanDir, err))
		} else if !info.IsDir() {
			errors = append(errors, fmt.Sprintf("plan directory '%s' is not a directory", c.PlanDir))
		}
	}

	// Validate SQLite configuration if source is sqlite
	if c.PlanSource == SourceSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite source")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate Google Sheets configuration if source is sheets
	if c.PlanSource == SourceSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets source")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets source")
		}
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets source")
		}
		if !hasJSON && hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate cache configuration
	if c.PlanCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid plan cache size %d: must be at least 1", c.PlanCacheSize))
	} else if c.PlanCacheSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid plan cache size %d: must be at most 10000", c.PlanCacheSize))
	}
	if c.PlanCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid plan cache TTL %v: must be at least 1 second", c.PlanCacheTTL))
	} else if c.PlanCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid plan cache TTL %v: must be at most 24 hours", c.PlanCacheTTL))
	}

	// Validate logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// AMQPEnabled reports whether the allocation worker should run.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
