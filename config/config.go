package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. It is built once in main and passed
// explicitly to the pipeline so tests can run it with their own paths.
type Config struct {
	MasterCSVPath      string `yaml:"master_csv_path"`
	ReportViewPath     string `yaml:"report_view_path"`
	TempDownloadFolder string `yaml:"temp_download_folder"`
	InboxDir           string `yaml:"inbox_dir"`
	EmailSubject       string `yaml:"email_subject"`

	LookbackDays   int    `yaml:"lookback_days"`
	HeaderScanRows int    `yaml:"header_scan_rows"`
	PlantMarker    string `yaml:"plant_marker"`
	YieldMarker    string `yaml:"yield_marker"`
	DedupOnWrite   bool   `yaml:"dedup_on_write"`

	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
	MaxRetries  int    `yaml:"max_retries"`

	PostgresEnabled  bool   `yaml:"postgres_enabled"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	S3Enabled         bool   `yaml:"s3_enabled"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`

	PortalURL            string `yaml:"portal_url"`
	PortalExportSelector string `yaml:"portal_export_selector"`
	ChromeBin            string `yaml:"chrome_bin"`
}

// Default returns the configuration used when nothing is set in the environment.
func Default() *Config {
	return &Config{
		MasterCSVPath:      "./data/Master_Inverter_Data.csv",
		ReportViewPath:     "./data/Inverter_Report_View.csv",
		TempDownloadFolder: "./data/tmp",
		InboxDir:           "./inbox",
		EmailSubject:       "Taiwan Solar Floating - Monthly-Inverter Report",

		LookbackDays:   31,
		HeaderScanRows: 15,
		PlantMarker:    "Plant Name",
		YieldMarker:    "Yield",

		Timezone:   "Local",
		LogLevel:   "info",
		LogFormat:  "console",
		MaxRetries: 3,

		PostgresHost:    "localhost",
		PostgresPort:    "5432",
		PostgresUser:    "inverter",
		PostgresDB:      "inverter_db",
		PostgresSSLMode: "disable",

		S3Region: "us-east-1",
		S3Prefix: "reports/",
	}
}

// Load reads the .env file, applies environment variables over the defaults and then
// overlays CONFIG_FILE (YAML) if one is named.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	d := Default()
	cfg := &Config{
		MasterCSVPath:      getEnv("MASTER_CSV_PATH", d.MasterCSVPath),
		ReportViewPath:     getEnv("REPORT_VIEW_PATH", d.ReportViewPath),
		TempDownloadFolder: getEnv("TEMP_DOWNLOAD_FOLDER", d.TempDownloadFolder),
		InboxDir:           getEnv("INBOX_DIR", d.InboxDir),
		EmailSubject:       getEnv("EMAIL_SUBJECT", d.EmailSubject),

		LookbackDays:   getEnvInt("LOOKBACK_DAYS", d.LookbackDays),
		HeaderScanRows: getEnvInt("HEADER_SCAN_ROWS", d.HeaderScanRows),
		PlantMarker:    getEnv("PLANT_MARKER", d.PlantMarker),
		YieldMarker:    getEnv("YIELD_MARKER", d.YieldMarker),
		DedupOnWrite:   getEnvBool("DEDUP_ON_WRITE", d.DedupOnWrite),

		Schedule: getEnv("SCHEDULE", d.Schedule),
		Timezone: getEnv("TIMEZONE", d.Timezone),

		LogLevel:    getEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:   getEnv("LOG_FORMAT", d.LogFormat),
		MetricsPath: getEnv("METRICS_PATH", d.MetricsPath),
		MaxRetries:  getEnvInt("MAX_RETRIES", d.MaxRetries),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", d.PostgresEnabled),
		PostgresHost:     getEnv("POSTGRES_HOST", d.PostgresHost),
		PostgresPort:     getEnv("POSTGRES_PORT", d.PostgresPort),
		PostgresUser:     getEnv("POSTGRES_USER", d.PostgresUser),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", d.PostgresPassword),
		PostgresDB:       getEnv("POSTGRES_DB", d.PostgresDB),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", d.PostgresSSLMode),

		S3Enabled:         getEnvBool("S3_ENABLED", d.S3Enabled),
		S3Endpoint:        getEnv("S3_ENDPOINT", d.S3Endpoint),
		S3Region:          getEnv("S3_REGION", d.S3Region),
		S3Bucket:          getEnv("S3_BUCKET", d.S3Bucket),
		S3Prefix:          getEnv("S3_PREFIX", d.S3Prefix),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", d.S3AccessKeyID),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", d.S3SecretAccessKey),

		PortalURL:            getEnv("PORTAL_URL", d.PortalURL),
		PortalExportSelector: getEnv("PORTAL_EXPORT_SELECTOR", d.PortalExportSelector),
		ChromeBin:            getEnv("CHROME_BIN", d.ChromeBin),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.Validate()
}

// MergeFile overlays the YAML document at path onto c. Keys absent from the file keep
// their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

// Validate reports settings that would make a run meaningless.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MasterCSVPath) == "" {
		errs = append(errs, errors.New("master_csv_path is required"))
	}
	if strings.TrimSpace(c.ReportViewPath) == "" {
		errs = append(errs, errors.New("report_view_path is required"))
	}
	if c.HeaderScanRows <= 0 {
		errs = append(errs, fmt.Errorf("header_scan_rows must be positive, got %d", c.HeaderScanRows))
	}
	if c.PlantMarker == "" || c.YieldMarker == "" {
		errs = append(errs, errors.New("plant_marker and yield_marker must be set"))
	}
	if c.S3Enabled && c.S3Bucket == "" {
		errs = append(errs, errors.New("s3_bucket is required when s3 is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
