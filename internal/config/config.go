package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	CORSOrigins   []string
	// Redis is optional; without it the snapshot cache is off and broadcasts
	// stay inside this process.
	RedisURL         string
	SnapshotCacheTTL time.Duration
	MeiliURL         string
	MeiliMasterKey   string
	// MinIO; attachments are disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP - invite emails are skipped if not configured
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AppURL       string
	Debug        bool
	LogFormat    string
}

// Load reads config.env and .env from the working directory when present and
// then resolves every setting from the environment. Variables already set in
// the environment win over the files.
func Load() Config {
	_ = godotenv.Load("config.env")
	_ = godotenv.Load(".env")
	return fromEnv()
}

func fromEnv() Config {
	return Config{
		Addr:             getenv("API_ADDR", ":5000"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:        getenv("JWT_SECRET", "taskboard-dev-secret"),
		AccessTTL:        time.Duration(getenvInt("ACCESS_TTL_SECONDS", 604800)) * time.Second,
		CORSOrigins:      getenvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RedisURL:         getenv("REDIS_URL", ""),
		SnapshotCacheTTL: time.Duration(getenvInt("SNAPSHOT_CACHE_TTL_SECONDS", 60)) * time.Second,
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:    getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getenv("MINIO_BUCKET", "taskboard-attachments"),
		MinioUseSSL:      getenvBool("MINIO_USE_SSL", false),
		SMTPHost:         getenv("SMTP_HOST", ""),
		SMTPPort:         getenv("SMTP_PORT", "587"),
		SMTPUsername:     getenv("SMTP_USERNAME", ""),
		SMTPPassword:     getenv("SMTP_PASSWORD", ""),
		SMTPFrom:         getenv("SMTP_FROM", ""),
		SMTPFromName:     getenv("SMTP_FROM_NAME", "Taskboard"),
		AppURL:           getenv("APP_URL", "http://localhost:3000"),
		Debug:            getenvBool("DEBUG", false),
		LogFormat:        getenv("LOG_FORMAT", "text"),
	}
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

func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
