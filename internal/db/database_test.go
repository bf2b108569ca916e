package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard)
}

// newMockDB returns a DB backed by sqlmock with the postgres bind style.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return &DB{DB: sqlx.NewDb(mockDB, "postgres")}, mock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, "", cfg.Username)
	assert.Equal(t, "", cfg.Password)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     6543,
		Database: "pertscan",
		Username: "scanner",
		Password: "secret",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=6543 dbname=pertscan user=scanner password=secret sslmode=require",
		cfg.DSN())
}

func TestConfigurePingsConnection(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	cfg := DefaultConfig()

	t.Run("ping succeeds", func(t *testing.T) {
		mock.ExpectPing()
		db, err := configure(context.Background(), sqlx.NewDb(mockDB, "postgres"), &cfg)
		require.NoError(t, err)
		assert.NotNil(t, db)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		failing, failMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		failMock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))
		failMock.ExpectClose()

		db, err := configure(context.Background(), sqlx.NewDb(failing, "postgres"), &cfg)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.True(t, errors.IsCode(err, errors.CodeDatabaseConnection))
		assert.NoError(t, failMock.ExpectationsWereMet())
	})
}

func TestConnectUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Database = "pertscan"
	cfg.Username = "scanner"
	cfg.Password = "do-not-leak"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Connect(ctx, &cfg)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseConnection))
	assert.NotContains(t, err.Error(), "do-not-leak")
}

func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"no rows", sql.ErrNoRows, errors.CodeNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, errors.CodeConflict},
		{"foreign key violation", &pq.Error{Code: "23503"}, errors.CodeValidation},
		{"not null violation", &pq.Error{Code: "23502"}, errors.CodeValidation},
		{"check violation", &pq.Error{Code: "23514"}, errors.CodeValidation},
		{"query canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"admin shutdown", &pq.Error{Code: "57P01"}, errors.CodeDatabaseConnection},
		{"connection failure", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"other postgres error", &pq.Error{Code: "42P01"}, errors.CodeDatabaseQuery},
		{"wrapped postgres error", fmt.Errorf("exec: %w", &pq.Error{Code: "23505"}), errors.CodeConflict},
		{"plain error", fmt.Errorf("password=hunter2 rejected"), errors.CodeDatabaseQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("test op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.GetCode(err))
			assert.NotContains(t, err.Error(), "hunter2")
		})
	}

	assert.NoError(t, sanitizeDBError("noop", nil))
}

func TestSanitizeDBErrorKeepsCause(t *testing.T) {
	cause := &pq.Error{Code: "42P01", Message: "relation does not exist"}
	err := sanitizeDBError("list scans", cause)

	var dbErr *errors.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "list scans", dbErr.Operation)
	assert.Same(t, cause, dbErr.Cause)
}
