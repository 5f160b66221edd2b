package postgresql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:            "db.internal",
		Port:            5432,
		User:            "briefcast",
		Password:        "it's secret",
		Database:        "briefcast",
		SSLMode:         "disable",
		ApplicationName: "briefcast-worker",
		ConnectTimeout:  5 * time.Second,
	}

	assert.Equal(t,
		`host='db.internal' port=5432 user='briefcast' password='it\'s secret' dbname='briefcast' sslmode='disable' application_name='briefcast-worker' connect_timeout=5`,
		cfg.DSN())
}

func TestConfig_DSNOmitsUnsetOptions(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 5432, Database: "briefcast"}
	assert.Equal(t, `host='localhost' port=5432 user='' password='' dbname='briefcast'`, cfg.DSN())
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := newClient(sqlx.NewDb(db, "postgres"), &Config{Database: "briefcast", MaxOpenConns: 4}, logger)
	t.Cleanup(func() { client.Close() })
	return client, mock
}

func TestClient_HealthCheck(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_UnsetIdleLimitKeepsConnections(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, client.HealthCheck(context.Background()))

	stats := client.GetDB().Stats()
	assert.Equal(t, 1, stats.OpenConnections)
	assert.Equal(t, 1, stats.Idle)
	assert.Zero(t, stats.MaxIdleClosed)
}

func TestClient_HealthCheckPingFails(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database health check failed")
}

func TestClient_RegisterMetrics(t *testing.T) {
	client, _ := newMockClient(t)
	reg := prometheus.NewRegistry()

	require.NoError(t, client.RegisterMetrics(reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_max_open_connections")
}
