package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	})

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}
	return db, mock, cleanup
}

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func newProcess(key string, pid, ppid int64, offset time.Duration) *models.Process {
	ts := baseTime.Add(offset)
	return &models.Process{
		ProcessKey: key,
		Host:       "WS01",
		PID:        i64(pid),
		PPID:       i64(ppid),
		Image:      `C:\Windows\System32\cmd.exe`,
		FirstSeen:  ts,
		LastSeen:   ts,
	}
}
