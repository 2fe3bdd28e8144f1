package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string
	MaxUploadMB     int
	StaticDir       string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// StorageConfig describes the artifact store root and its sweep policy.
type StorageConfig struct {
	UploadDir     string
	SweepMaxAge   time.Duration
	SweepInterval time.Duration
}

// ConvertConfig defines conversion limits and rasterizer settings.
type ConvertConfig struct {
	MaxConcurrent int
	RasterBackend string // "fitz"|"mutool"
	MutoolPath    string
	RasterDPI     int
	JPEGQuality   int
	MinDPI        int
	MaxDPI        int
}

// RedisConfig holds conversion record store connectivity.
type RedisConfig struct {
	URL string
}

// ArchiveConfig configures optional S3 archival of produced artifacts.
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether an archive bucket is configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Server  ServerConfig
	Storage StorageConfig
	Convert ConvertConfig
	Redis   RedisConfig
	Archive ArchiveConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdftools.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdftools",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		MaxUploadMB:     parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64),
		StaticDir:       getEnv("STATIC_DIR", "static"),
		CORSOrigins:     parseList(getEnv("CORS_ORIGINS", "*")),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Storage = StorageConfig{
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		SweepMaxAge:   parseDuration(getEnv("SWEEP_MAX_AGE", "30m"), 30*time.Minute),
		SweepInterval: parseDuration(getEnv("SWEEP_INTERVAL", "5m"), 5*time.Minute),
	}

	cfg.Convert = ConvertConfig{
		MaxConcurrent: parseInt(getEnv("MAX_CONCURRENT_CONVERSIONS", "4"), 4),
		RasterBackend: strings.ToLower(getEnv("RASTER_BACKEND", "fitz")),
		MutoolPath:    getEnv("MUTOOL_PATH", "mutool"),
		RasterDPI:     parseInt(getEnv("RASTER_DPI", "150"), 150),
		JPEGQuality:   parseInt(getEnv("JPEG_QUALITY", "75"), 75),
		MinDPI:        parseInt(getEnv("COMPRESS_MIN_DPI", "1"), 1),
		MaxDPI:        parseInt(getEnv("COMPRESS_MAX_DPI", "600"), 600),
	}
	if cfg.Convert.MaxConcurrent <= 0 {
		cfg.Convert.MaxConcurrent = 1
	}
	if cfg.Convert.JPEGQuality < 1 || cfg.Convert.JPEGQuality > 100 {
		cfg.Convert.JPEGQuality = 75
	}

	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", ""),
	}

	cfg.Archive = ArchiveConfig{
		Bucket:       getEnv("ARCHIVE_S3_BUCKET", ""),
		Prefix:       strings.Trim(getEnv("ARCHIVE_S3_PREFIX", "conversions"), "/"),
		Region:       getEnv("ARCHIVE_S3_REGION", getEnv("AWS_REGION", "")),
		Endpoint:     getEnv("ARCHIVE_S3_ENDPOINT", ""),
		AccessKey:    getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		UsePathStyle: parseBool(getEnv("ARCHIVE_S3_PATH_STYLE", "false")),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
