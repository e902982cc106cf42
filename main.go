package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/services"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSQLitePath = "conecoach.db"

func main() {
	// Setup structured logging with JSON format
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	config := services.LoadConfig()
	ctx := context.Background()

	server := services.NewServer(config)

	db, err := openDatabase(config.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
	} else if db != nil {
		repo := repository.NewGORMRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			slog.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to database", "driver", config.Database.Driver)

		if config.Database.Seed {
			if err := services.NewDatabaseSeeder(repo).SeedDatabase(ctx); err != nil {
				slog.Error("Failed to seed database", "error", err)
			}
		}
		server.SetDatabase(repo)
	}

	if err := server.InitializeServices(ctx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	server.Start()
}

// openDatabase returns nil without error when postgres is selected but no URL is set
func openDatabase(cfg services.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel))}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		path := cfg.URL
		if path == "" {
			path = defaultSQLitePath
		}
		dialector = sqlite.Open(path)
	case "postgres", "":
		if cfg.URL == "" {
			slog.Warn("Database URL not configured, running without database")
			return nil, nil
		}
		dialector = postgres.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
