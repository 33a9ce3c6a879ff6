package db

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// DSN builds a MySQL DSN with parseTime enabled.
func DSN(user, password, host string, port int, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ConnectOpts selects and configures the durable backend.
type ConnectOpts struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Path     string // sqlite file, or ":memory:"
}

// Connect opens a GORM connection for the configured driver.
func Connect(opts ConnectOpts) (*gorm.DB, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		return ConnectMySQL(opts.User, opts.Password, opts.Host, opts.Port, opts.Database)
	case DriverSQLite:
		return ConnectSQLite(opts.Path)
	}
	return nil, fmt.Errorf("db: unsupported driver %q", opts.Driver)
}

// ConnectMySQL opens a GORM connection to a MySQL-compatible server.
func ConnectMySQL(user, password, host string, port int, database string) (*gorm.DB, error) {
	dsn := DSN(user, password, host, port, database)
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// ConnectSQLite opens a GORM connection to a SQLite file. The pool is held to
// one connection: SQLite serializes writers anyway, and ":memory:" databases
// are per-connection.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = "gavel.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite pool %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
