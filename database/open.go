package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Config параметры пула соединений
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Conn открытое соединение с выбранным диалектом
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open открывает соединение по DSN или пути к SQLite-файлу
func Open(dsnOrPath string, config Config) (*Conn, error) {
	token := strings.TrimSpace(dsnOrPath)
	if token == "" {
		return nil, fmt.Errorf("database dsn must be non-empty")
	}

	if IsMySQLDSN(token) {
		driverDSN, err := ParseMySQLDSN(token)
		if err != nil {
			return nil, err
		}
		return open("mysql", driverDSN, DialectMySQL, config)
	}

	return openSQLite(token, config)
}

// openSQLite открывает файловую или in-memory SQLite БД.
// Каталог файла создается при необходимости.
func openSQLite(path string, config Config) (*Conn, error) {
	if !isInMemorySQLite(path) {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	} else {
		// In-memory SQLite живет в рамках одного соединения: новое
		// соединение пула получило бы пустую БД без таблиц.
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}

	return open("sqlite3", path, DialectSQLite, config)
}

func isInMemorySQLite(path string) bool {
	if path == ":memory:" {
		return true
	}
	return strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory")
}

func open(driver, dsn string, dialect Dialect, config Config) (*Conn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else if dialect == DialectSQLite {
		// SQLite плохо переносит большое число одновременных соединений
		db.SetMaxOpenConns(10)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else if dialect == DialectSQLite {
		db.SetMaxIdleConns(3)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	return &Conn{DB: db, Dialect: dialect}, nil
}
