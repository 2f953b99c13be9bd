package database

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"xorm.io/xorm"
	xlog "xorm.io/xorm/log"
	"xorm.io/xorm/names"
)

// Параметры подключения
type DB struct {
	Driver  string
	Host    string
	Port    int
	User    string
	Pass    string
	Schema  string
	Path    string
	ShowSQL bool
}

func (db DB) dsn() (string, error) {
	switch db.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = db.User
		cfg.Passwd = db.Pass
		cfg.Net = "tcp"
		cfg.Addr = db.Host + ":" + strconv.Itoa(db.Port)
		cfg.DBName = db.Schema
		cfg.ParseTime = true
		cfg.Params = map[string]string{"charset": "utf8mb4"}

		return cfg.FormatDSN(), nil
	case "sqlite3":
		return "file:" + db.Path + "?_busy_timeout=5000", nil
	}

	return "", fmt.Errorf("unknown database driver: %q", db.Driver)
}

// Подключение к БД и создание недостающих таблиц
func Connect(db DB, logs io.Writer) (*xorm.Engine, error) {
	dsn, err := db.dsn()
	if err != nil {
		return nil, err
	}
	engine, err := xorm.NewEngine(db.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if db.Driver == "sqlite3" {
		// SQLite не умеет в параллельную запись
		engine.SetMaxOpenConns(1)
	}

	if logs != nil {
		engine.SetLogger(xlog.NewSimpleLogger(logs))
	}
	engine.ShowSQL(db.ShowSQL)
	engine.SetMapper(names.SameMapper{})

	if err := engine.Ping(); err != nil {
		return nil, err
	}
	err = engine.Sync(
		&Institute{},
		&Group{},
		&Subject{},
		&Teacher{},
		&Lesson{},
		&SyncRun{},
	)
	if err != nil {
		return nil, err
	}

	return engine, nil
}

// Нарушение уникального индекса (запись уже создана параллельно)
func IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

// Указатель на внешний номер, 0 означает его отсутствие
func ExtID(id int64) *int64 {
	if id == 0 {
		return nil
	}

	return &id
}

// Значение внешнего номера, 0 при его отсутствии
func ExtValue(id *int64) int64 {
	if id == nil {
		return 0
	}

	return *id
}
