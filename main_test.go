package main

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/conecoach/backend/repository"
	svc "github.com/conecoach/backend/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestCheckOrigin(t *testing.T) {
	const allowed = "http://localhost:5173, https://coach.example.com"

	tests := []struct {
		name    string
		allowed string
		origin  string
		want    bool
	}{
		{"first in list", allowed, "http://localhost:5173", true},
		{"second in list with whitespace", allowed, "https://coach.example.com", true},
		{"unknown origin", allowed, "http://malicious.com", false},
		{"port mismatch", allowed, "http://localhost:8080", false},
		{"scheme mismatch", allowed, "http://coach.example.com", false},
		{"nothing configured", "", "http://localhost:5173", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws/simulations/1/voice", nil)
			req.Header.Set("Origin", tt.origin)
			assert.Equal(t, tt.want, svc.CheckOrigin(req, tt.allowed))
		})
	}
}

func TestOpenDatabase(t *testing.T) {
	t.Run("sqlite file", func(t *testing.T) {
		db, err := openDatabase(svc.DatabaseConfig{
			Driver:       "sqlite",
			URL:          filepath.Join(t.TempDir(), "test.db"),
			MaxIdleConns: 1,
			MaxOpenConns: 1,
		})
		require.NoError(t, err)
		require.NotNil(t, db)

		repo := repository.NewGORMRepository(db)
		require.NoError(t, repo.AutoMigrate())
		count, err := repo.CountSimulations(t.Context())
		require.NoError(t, err)
		assert.Zero(t, count)

		sqlDB, err := db.DB()
		require.NoError(t, err)
		assert.NoError(t, sqlDB.Close())
	})

	t.Run("postgres without url", func(t *testing.T) {
		db, err := openDatabase(svc.DatabaseConfig{Driver: "postgres"})
		assert.NoError(t, err)
		assert.Nil(t, db)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := openDatabase(svc.DatabaseConfig{Driver: "mysql", URL: "root@/db"})
		assert.ErrorContains(t, err, "unknown database driver")
	})
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Warn, gormLogLevel("warn"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Silent, gormLogLevel(""))
	assert.Equal(t, logger.Silent, gormLogLevel("verbose"))
}
