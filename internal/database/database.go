// Package database 提供数据库连接与迁移功能。
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/MorseWayne/library_api/internal/config"
	"github.com/MorseWayne/library_api/migrations"
)

// DB 封装数据库连接
type DB struct {
	*sqlx.DB
	logger *zap.Logger
	dsn    string
}

// DSN 根据配置构建 MySQL 连接串；时间统一按 UTC 解析
func DSN(cfg config.DatabaseConfig) string {
	mc := mysqldrv.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	// RowsAffected 按匹配行数计算，值未变化的 UPDATE 不会被误判为记录不存在
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// New 创建数据库连接
func New(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	dsn := DSN(cfg.Database)

	sqlxDB, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlxDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlxDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlxDB.Ping(); err != nil {
		_ = sqlxDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
	)

	return &DB{DB: sqlxDB, logger: logger, dsn: dsn}, nil
}

// newMigrator 基于独立连接和内嵌迁移脚本创建 migrate 实例，调用方负责 close
func (db *DB) newMigrator() (*migrate.Migrate, func(), error) {
	// 迁移脚本包含多条语句，需要单独开启 multiStatements
	mc, err := mysqldrv.ParseDSN(db.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dsn: %w", err)
	}
	mc.MultiStatements = true

	migrateSQLDB, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database for migration: %w", err)
	}

	driver, err := mysql.WithInstance(migrateSQLDB, &mysql.Config{})
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create mysql driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	closeFn := func() {
		_, _ = m.Close()
		_ = migrateSQLDB.Close()
	}
	return m, closeFn, nil
}

// currentVersion 读取当前版本，脏状态直接报错
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in dirty state at version %d, please check and fix manually", version)
	}
	return version, nil
}

// RunMigrations 执行所有待执行的迁移
func (db *DB) RunMigrations() error {
	m, closeFn, err := db.newMigrator()
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}
	db.logger.Info("current migration version", zap.Uint("version", from))

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			db.logger.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	to, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("get new version: %w", err)
	}
	db.logger.Info("migrations completed successfully",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to),
	)
	return nil
}

// MigrateDown 回滚指定步数，生产环境慎用
func (db *DB) MigrateDown(steps int) error {
	m, closeFn, err := db.newMigrator()
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}
	db.logger.Info("starting migration rollback",
		zap.Uint("current_version", from),
		zap.Int("steps", steps),
	)

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}

	to, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("get new version: %w", err)
	}
	db.logger.Info("migration rollback completed",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to),
	)
	return nil
}

// MigrateToVersion 迁移到指定版本
func (db *DB) MigrateToVersion(version uint) error {
	m, closeFn, err := db.newMigrator()
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}
	db.logger.Info("migrating to specific version",
		zap.Uint("current_version", from),
		zap.Uint("target_version", version),
	)

	if err := m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			db.logger.Info("already at target version", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	return nil
}

// ForceMigrationVersion 强制设置迁移版本，仅用于修复脏状态
func (db *DB) ForceMigrationVersion(version uint) error {
	m, closeFn, err := db.newMigrator()
	if err != nil {
		return err
	}
	defer closeFn()

	db.logger.Warn("forcing migration version", zap.Uint("version", version))
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("force migration version: %w", err)
	}
	return nil
}

// resetTables 按外键依赖顺序排列
var resetTables = []string{"loans", "book_categories", "books", "categories", "users"}

// ResetData 清空业务数据，保留表结构与迁移版本；仅用于开发环境重新灌入种子数据
func (db *DB) ResetData(ctx context.Context) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range resetTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	db.logger.Warn("all library data removed", zap.Strings("tables", resetTables))
	return nil
}
