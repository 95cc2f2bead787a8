package orm

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Type                   string `yaml:"type" mapstructure:"type"`
	SourceName             string `yaml:"source_name" mapstructure:"source_name"`
	MaxOpenConns           int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql" mapstructure:"log_sql"`
}

// NewSQLDB 打开连接池并 Ping
func NewSQLDB(ctx context.Context, c *Config) (*sql.DB, error) {
	driver := c.Type
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, c.SourceName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewGorm 复用已有连接池构造 gorm
func NewGorm(sqlDB *sql.DB, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	return gorm.Open(mysql.New(mysql.Config{
		Conn: sqlDB,
	}), &gorm.Config{
		// 写操作都显式开事务
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 logger.Default.LogMode(level),
	})
}
