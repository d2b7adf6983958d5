// Package basic 基于 database/sql 实现 db.IDatabase
package basic

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 抽象
type DB struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

// New 根据 core.DBConfig 创建数据库实例
//
// 已注册的驱动：sqlite（modernc）、mysql、postgres。Driver 为空时默认 sqlite。
// sqlite 内存库每个连接各自独立，未显式配置时连接池限制为 1。
func New(config core.DBConfig) (core.IDatabase, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn, err := buildDSN(driver, config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else if dialect.New(driver).Is(dialect.SQLite) && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleTime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return Wrap(db, driver), nil
}

// Wrap 包装已打开的 *sql.DB（例如 sqlmock 创建的连接）
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver, dialect: dialect.New(driver)}
}

// buildDSN 未提供 DSN 时按驱动拼接连接串
func buildDSN(driver string, config core.DBConfig) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	switch dialect.New(driver).Kind() {
	case dialect.SQLite:
		if config.Database == "" {
			return ":memory:", nil
		}
		return config.Database, nil
	case dialect.MySQL:
		cfg := mysql.NewConfig()
		cfg.User = config.Username
		cfg.Passwd = config.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(portOr(config.Port, 3306)))
		cfg.DBName = config.Database
		cfg.ParseTime = config.ParseTime
		if config.Location != "" {
			loc, err := time.LoadLocation(config.Location)
			if err != nil {
				return "", fmt.Errorf("invalid location %q: %w", config.Location, err)
			}
			cfg.Loc = loc
		}
		if config.Charset != "" {
			cfg.Params = map[string]string{"charset": config.Charset}
		}
		return cfg.FormatDSN(), nil
	case dialect.Postgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(config.Username, config.Password),
			Host:   net.JoinHostPort(config.Host, strconv.Itoa(portOr(config.Port, 5432))),
			Path:   "/" + config.Database,
		}
		q := u.Query()
		if config.SSLMode != "" {
			q.Set("sslmode", config.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return config.Database, nil
	}
}

func portOr(port, def int) int {
	if port > 0 {
		return port
	}
	return def
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// GetDialectName 实现 core.IDialectNameProvider 接口，返回底层 driver 名
func (d *DB) GetDialectName() string {
	return d.driver
}

// ExecDDL 执行建表等 DDL（测试与初始化场景）
func (d *DB) ExecDDL(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec ddl: %w", err)
		}
	}
	return nil
}
