package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	// zone database for images without /usr/share/zoneinfo
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Telegram  TelegramConfig
	Sync      SyncConfig
	Cache     CacheConfig
	Log       LogConfig
	KeepAlive time.Duration
	Location  *time.Location // zone used to pick today's lunch
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// URL returns the postgres connection string for pgxpool.
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type HTTPConfig struct {
	Addr string
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64 // chat that receives save notices
}

type SyncConfig struct {
	Store        string // "postgres" or "memory"
	ChangeFeed   string // "postgres", "redis" or "none"
	SaveTimeout  time.Duration
	SaveAttempts int
	SaveBackoff  time.Duration
	EchoWindow   time.Duration
	Debounce     time.Duration
}

type CacheConfig struct {
	Path string // empty disables the local fallback cache
	Key  string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	attempts, err := getInt("SAVE_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	adminChat, err := strconv.ParseInt(getEnv("ADMIN_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_ID: %w", err)
	}

	saveTimeout, err := getDuration("SAVE_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	saveBackoff, err := getDuration("SAVE_BACKOFF", 800*time.Millisecond)
	if err != nil {
		return nil, err
	}
	echoWindow, err := getDuration("ECHO_WINDOW", 3*time.Second)
	if err != nil {
		return nil, err
	}
	debounce, err := getDuration("RELOAD_DEBOUNCE", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	keepAlive, err := getDuration("KEEPALIVE_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(getEnv("MENU_TIMEZONE", "Europe/Stockholm"))
	if err != nil {
		return nil, fmt.Errorf("MENU_TIMEZONE: %w", err)
	}

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "nollettan"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", "127.0.0.1:8080"),
		},
		Telegram: TelegramConfig{
			Token:       getEnv("TOKEN", ""),
			AdminChatID: adminChat,
		},
		Sync: SyncConfig{
			Store:        getEnv("MENU_STORE", "postgres"),
			ChangeFeed:   getEnv("CHANGE_FEED", "postgres"),
			SaveTimeout:  saveTimeout,
			SaveAttempts: attempts,
			SaveBackoff:  saveBackoff,
			EchoWindow:   echoWindow,
			Debounce:     debounce,
		},
		Cache: CacheConfig{
			Path: getEnv("CACHE_PATH", ""),
			Key:  getEnv("CACHE_KEY", "nollettan-menu"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnv("LOG_PRETTY", "") != "",
		},
		KeepAlive: keepAlive,
		Location:  loc,
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
