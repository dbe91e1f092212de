// Package database открывает соединения receiver- и catalog-БД.
// Строки, начинающиеся с mysql:// или mysql+pymysql://, выбирают MySQL;
// все остальное трактуется как путь к файлу SQLite.
package database

import (
	"fmt"
	"net/url"
	"strings"
)

// Dialect диалект SQL, выбранный по DSN
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// IsMySQLDSN сообщает, описывает ли строка подключение к MySQL
func IsMySQLDSN(value string) bool {
	token := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(token, "mysql://") || strings.HasPrefix(token, "mysql+pymysql://")
}

// ParseMySQLDSN разбирает mysql:// DSN в формат go-sql-driver
// (user:password@tcp(host:port)/database?charset=...).
func ParseMySQLDSN(dsn string) (string, error) {
	token := strings.TrimSpace(dsn)
	if strings.HasPrefix(token, "mysql+pymysql://") {
		token = "mysql://" + strings.TrimPrefix(token, "mysql+pymysql://")
	}

	parsed, err := url.Parse(token)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if parsed.Scheme != "mysql" {
		return "", fmt.Errorf("unsupported dsn scheme %q", parsed.Scheme)
	}

	databaseName := strings.TrimPrefix(parsed.Path, "/")
	if databaseName == "" {
		return "", fmt.Errorf("mysql dsn must include database name")
	}

	host := parsed.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := parsed.Port()
	if port == "" {
		port = "3306"
	}

	user := ""
	password := ""
	if parsed.User != nil {
		user = parsed.User.Username()
		password, _ = parsed.User.Password()
	}

	charset := parsed.Query().Get("charset")
	if charset == "" {
		charset = "utf8mb4"
	}

	credentials := user
	if password != "" {
		credentials += ":" + password
	}

	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=%s&parseTime=false", credentials, host, port, databaseName, charset), nil
}
