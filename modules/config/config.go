package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"stud.l9labs.ru/raspsync/modules/normalize"
)

type Config struct {
	DB     DBConfig
	Source SourceConfig
	Term   TermConfig
	Sync   SyncConfig
	API    APIConfig
	Push   PushConfig
	Log    LogConfig
}

// Параметры подключения к БД
type DBConfig struct {
	Driver  string // mysql или sqlite3
	Host    string
	Port    int
	User    string
	Pass    string
	Schema  string
	Path    string // файл БД для sqlite3
	ShowSQL bool
}

// Доступ к сайту расписания
type SourceConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Retries  int
	Proxy    string
	RelayURL string
}

type TermConfig struct {
	Version       string
	SemesterStart time.Time
	Slots         string
}

type SyncConfig struct {
	Cron       string
	StaleAfter time.Duration
	LockPath   string
}

type APIConfig struct {
	Addr  string
	Token string
}

// Клиент, отправляющий расписание на сервер со стороны
type PushConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type LogConfig struct {
	Dir    string
	Level  string
	Format string
	MaxAge time.Duration
}

var (
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrBadProxy      = errors.New("unsupported proxy scheme")
)

// Загрузка конфигурации из .env и переменных окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.DB = DBConfig{
		Driver:  v.GetString("DB_DRIVER"),
		Host:    v.GetString("DB_HOST"),
		Port:    v.GetInt("DB_PORT"),
		User:    v.GetString("DB_USER"),
		Pass:    v.GetString("DB_PASSWORD"),
		Schema:  v.GetString("DB_NAME"),
		Path:    v.GetString("DB_PATH"),
		ShowSQL: v.GetBool("DB_SHOW_SQL"),
	}

	cfg.Source = SourceConfig{
		BaseURL:  strings.TrimRight(v.GetString("RASP_URL"), "/"),
		Timeout:  parseDuration(v.GetString("RASP_TIMEOUT"), 60*time.Second),
		Retries:  v.GetInt("RASP_RETRIES"),
		Proxy:    strings.TrimSpace(v.GetString("RASP_PROXY")),
		RelayURL: strings.TrimSpace(v.GetString("RASP_RELAY_URL")),
	}
	// Ретранслятор отвечает медленно
	if cfg.Source.RelayURL != "" && cfg.Source.Timeout < 120*time.Second {
		cfg.Source.Timeout = 120 * time.Second
	}

	start, err := time.ParseInLocation("2006-01-02", v.GetString("TERM_SEMESTER_START"), time.Local)
	if err != nil {
		return nil, fmt.Errorf("TERM_SEMESTER_START: %w", err)
	}
	cfg.Term = TermConfig{
		Version:       v.GetString("TERM_VERSION"),
		SemesterStart: start,
		Slots:         v.GetString("TERM_SLOTS"),
	}

	cfg.Sync = SyncConfig{
		Cron:       v.GetString("SYNC_CRON"),
		StaleAfter: parseDuration(v.GetString("SYNC_STALE_AFTER"), 6*time.Hour),
		LockPath:   v.GetString("SYNC_LOCK_PATH"),
	}

	cfg.API = APIConfig{
		Addr:  v.GetString("API_ADDR"),
		Token: v.GetString("API_TOKEN"),
	}

	cfg.Push = PushConfig{
		URL:     strings.TrimRight(v.GetString("PUSH_URL"), "/"),
		Token:   v.GetString("PUSH_TOKEN"),
		Timeout: parseDuration(v.GetString("PUSH_TIMEOUT"), 60*time.Second),
	}

	cfg.Log = LogConfig{
		Dir:    v.GetString("LOG_DIR"),
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
		MaxAge: parseDuration(v.GetString("LOG_MAX_AGE"), 14*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Проверка значений, которые не имеет смысла исправлять молча
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.DB.Driver)
	}
	if c.Source.Retries < 1 {
		return fmt.Errorf("RASP_RETRIES must be positive, got %d", c.Source.Retries)
	}
	if c.Source.Proxy != "" {
		u, err := url.Parse(c.Source.Proxy)
		if err != nil {
			return fmt.Errorf("RASP_PROXY: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h", "socks4", "socks4a":
		default:
			return fmt.Errorf("%w: %q", ErrBadProxy, u.Scheme)
		}
	}
	if _, err := c.Timetable(); err != nil {
		return err
	}

	return nil
}

// Таблица звонков текущего семестра
func (c *Config) Timetable() (normalize.Timetable, error) {
	tt := normalize.DefaultTimetable()
	if c.Term.Version != "" {
		tt.Version = c.Term.Version
	}
	if !c.Term.SemesterStart.IsZero() {
		tt.SemesterStart = c.Term.SemesterStart
	}
	if c.Term.Slots != "" {
		slots, err := normalize.ParseSlots(c.Term.Slots)
		if err != nil {
			return tt, fmt.Errorf("TERM_SLOTS: %w", err)
		}
		tt.Slots = slots
	}

	return tt, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "rasp")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "rasp")
	v.SetDefault("DB_PATH", "rasp.db")
	v.SetDefault("DB_SHOW_SQL", false)

	v.SetDefault("RASP_URL", "https://rasp.sstu.ru")
	v.SetDefault("RASP_TIMEOUT", "60s")
	v.SetDefault("RASP_RETRIES", 3)

	v.SetDefault("TERM_VERSION", "")
	v.SetDefault("TERM_SEMESTER_START", "2026-01-12")

	v.SetDefault("SYNC_CRON", "0 */3 * * *")
	v.SetDefault("SYNC_STALE_AFTER", "6h")
	v.SetDefault("SYNC_LOCK_PATH", "raspsync.lock")

	v.SetDefault("API_ADDR", ":8080")

	v.SetDefault("PUSH_URL", "http://localhost:8080")
	v.SetDefault("PUSH_TIMEOUT", "60s")

	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_MAX_AGE", "336h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
