package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendBolt     = "bolt"
	FeedBackendMemory    = "memory"
	FeedBackendRedis     = "redis"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	StoreBackend         string
	BoltPath             string
	FeedBackend          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisChannel         string
	TicketFloor          int
	MinutesPerTicket     int
	Catalog              models.Catalog
	AllowCancelCalled    bool
	StaffPassword        string
	StaffPasswordHash    string
	StaffTokenSecret     string
	StaffTokenTTLMinutes int
	PublicURL            string
	RefreshInterval      time.Duration
	RateLimitPerMinute   int
	RateLimitBurst       int
	TrustProxy           bool
	AnnounceProvider     string
	NotifyProvider       string
	LogLevel             string
}

// catalogFile is the YAML shape of SERVICES_FILE.
type catalogFile struct {
	Default  string   `yaml:"default"`
	Services []string `yaml:"services"`
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg := Config{
		Port:                 port,
		DatabaseURL:          os.Getenv("DB_DSN"),
		StoreBackend:         readString("STORE_BACKEND", ""),
		BoltPath:             readString("BOLT_PATH", "queue.db"),
		FeedBackend:          readString("FEED_BACKEND", FeedBackendMemory),
		RedisAddr:            readString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              readInt("REDIS_DB", 0),
		RedisChannel:         readString("REDIS_CHANNEL", "queue:changes"),
		TicketFloor:          readInt("TICKET_FLOOR", models.DefaultTicketFloor),
		MinutesPerTicket:     readInt("MINUTES_PER_TICKET", 15),
		AllowCancelCalled:    readBool("ALLOW_CANCEL_CALLED", true),
		StaffPassword:        os.Getenv("STAFF_PASSWORD"),
		StaffPasswordHash:    os.Getenv("STAFF_PASSWORD_HASH"),
		StaffTokenSecret:     os.Getenv("STAFF_TOKEN_SECRET"),
		StaffTokenTTLMinutes: readInt("STAFF_TOKEN_TTL_MINUTES", 480),
		PublicURL:            readString("PUBLIC_URL", "http://localhost:"+port),
		RefreshInterval:      readDurationSeconds("REFRESH_INTERVAL_SECONDS", 10),
		RateLimitPerMinute:   readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:       readInt("RATE_LIMIT_BURST", 30),
		TrustProxy:           readBool("TRUST_PROXY", false),
		AnnounceProvider:     readString("ANNOUNCE_PROVIDER", "log"),
		NotifyProvider:       readString("NOTIFY_PROVIDER", "log"),
		LogLevel:             readString("LOG_LEVEL", "info"),
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreBackendBolt
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = StoreBackendPostgres
		}
	}

	catalog, err := loadCatalog(os.Getenv("SERVICES_FILE"), os.Getenv("SERVICES"), os.Getenv("DEFAULT_SERVICE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Catalog = catalog

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DB_DSN is required for the postgres store"))
		}
	case StoreBackendBolt:
		if c.BoltPath == "" {
			errs = append(errs, fmt.Errorf("BOLT_PATH is required for the bolt store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of: %s, %s", StoreBackendPostgres, StoreBackendBolt))
	}
	if c.FeedBackend != FeedBackendMemory && c.FeedBackend != FeedBackendRedis {
		errs = append(errs, fmt.Errorf("FEED_BACKEND must be one of: %s, %s", FeedBackendMemory, FeedBackendRedis))
	}
	if c.TicketFloor < 0 {
		errs = append(errs, fmt.Errorf("TICKET_FLOOR must not be negative"))
	}
	return errors.Join(errs...)
}

// JoinURL is the link a kiosk QR code points at.
func (c Config) JoinURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/?view=join"
}

func loadCatalog(path, list, defaultName string) (models.Catalog, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return models.Catalog{}, fmt.Errorf("read services file: %w", err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return models.Catalog{}, fmt.Errorf("parse services file: %w", err)
		}
		if defaultName == "" {
			defaultName = file.Default
		}
		return models.NewCatalog(file.Services, defaultName), nil
	}
	if list == "" {
		return models.NewCatalog([]string{models.DefaultService, "Payments", "Technical Support"}, defaultName), nil
	}
	return models.NewCatalog(strings.Split(list, ","), defaultName), nil
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
