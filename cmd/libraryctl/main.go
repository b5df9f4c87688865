// Package main 提供图书馆服务的管理命令行工具：数据库迁移、种子数据和管理员账号。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/config"
	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/logger"
	"github.com/MorseWayne/library_api/internal/repo"
	"github.com/MorseWayne/library_api/internal/seed"
	"github.com/MorseWayne/library_api/internal/service"
)

// app 命令共享的配置、日志与数据库连接，按需初始化
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "libraryctl", cfg.App.Version)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	db, err := database.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.cfg, a.logger, a.db = cfg, lg, db
	return nil
}

func (a *app) close(_ *cobra.Command, _ []string) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// seeder 基于真实仓储和服务构建种子写入器
func (a *app) seeder() *seed.Seeder {
	userRepo := repo.NewUserRepository(a.db)
	loanRepo := repo.NewLoanRepository(a.db)
	jwtService := service.NewJWTService(a.cfg, a.logger)

	return &seed.Seeder{
		Users:      service.NewUserService(userRepo, loanRepo, jwtService, a.logger),
		Roles:      userRepo,
		Categories: service.NewCategoryService(repo.NewCategoryRepository(a.db), a.logger),
		Books:      service.NewBookService(repo.NewBookRepository(a.db), loanRepo, a.logger),
		Loans:      service.NewLoanService(loanRepo, a.logger),
		Logger:     a.logger,
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:                "libraryctl",
		Short:              "Administration tool for the library lending API",
		SilenceUsage:       true,
		PersistentPreRunE:  a.init,
		PersistentPostRunE: a.close,
	}
	root.AddCommand(newMigrateCmd(a), newSeedCmd(a), newCreateAdminCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
