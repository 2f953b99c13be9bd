package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepareViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}

	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(prepareViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, 3306, cfg.DB.Port)
	assert.Equal(t, "https://rasp.sstu.ru", cfg.Source.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 3, cfg.Source.Retries)
	assert.Equal(t, "0 */3 * * *", cfg.Sync.Cron)
	assert.Equal(t, 6*time.Hour, cfg.Sync.StaleAfter)
	assert.Equal(t, 14*24*time.Hour, cfg.Log.MaxAge)
	assert.Equal(t, time.Date(2026, time.January, 12, 0, 0, 0, 0, time.Local), cfg.Term.SemesterStart)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/rasp.db")
	t.Setenv("RASP_URL", "https://rasp.example.org/")
	t.Setenv("RASP_RETRIES", "5")
	t.Setenv("API_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DB.Driver)
	assert.Equal(t, "/tmp/rasp.db", cfg.DB.Path)
	assert.Equal(t, "https://rasp.example.org", cfg.Source.BaseURL)
	assert.Equal(t, 5, cfg.Source.Retries)
	assert.Equal(t, "secret", cfg.API.Token)
}

func TestRelayTimeout(t *testing.T) {
	cfg, err := fromViper(prepareViper(map[string]any{
		"RASP_RELAY_URL": "https://relay.example.org/fetch",
		"RASP_TIMEOUT":   "30s",
	}))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.Source.Timeout)
}

func TestValidate(t *testing.T) {
	_, err := fromViper(prepareViper(map[string]any{"DB_DRIVER": "postgres"}))
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = fromViper(prepareViper(map[string]any{"RASP_PROXY": "ftp://proxy:21"}))
	assert.ErrorIs(t, err, ErrBadProxy)

	_, err = fromViper(prepareViper(map[string]any{"RASP_PROXY": "socks5://127.0.0.1:1080"}))
	assert.NoError(t, err)

	_, err = fromViper(prepareViper(map[string]any{"RASP_RETRIES": 0}))
	assert.Error(t, err)

	_, err = fromViper(prepareViper(map[string]any{"TERM_SEMESTER_START": "12.01.2026"}))
	assert.ErrorContains(t, err, "TERM_SEMESTER_START")

	_, err = fromViper(prepareViper(map[string]any{"TERM_SLOTS": "1=09:30-08:00"}))
	assert.ErrorContains(t, err, "TERM_SLOTS")
}

func TestTimetable(t *testing.T) {
	cfg, err := fromViper(prepareViper(map[string]any{
		"TERM_VERSION":        "2026-autumn",
		"TERM_SEMESTER_START": "2026-09-01",
		"TERM_SLOTS":          "1=08:15-09:45,2=10:00-11:30",
	}))
	require.NoError(t, err)

	tt, err := cfg.Timetable()
	require.NoError(t, err)
	assert.Equal(t, "2026-autumn", tt.Version)
	assert.Len(t, tt.Slots, 2)
	assert.True(t, tt.Has(2))
	assert.False(t, tt.Has(3))
	slot, ok := tt.Slot(1)
	require.True(t, ok)
	assert.Equal(t, "08:15", slot.Begin)
	assert.Equal(t, 1, tt.Week(time.Date(2026, time.September, 6, 0, 0, 0, 0, time.Local)))
	// 1 сентября 2026 - вторник, неделя считается с понедельника 31 августа
	assert.Equal(t, 1, tt.Week(time.Date(2026, time.August, 31, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, 2, tt.Week(time.Date(2026, time.September, 7, 0, 0, 0, 0, time.Local)))
}
