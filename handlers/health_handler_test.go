package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/services/audit"
	"go.uber.org/zap"
)

type fixedQueue audit.Stats

func (q fixedQueue) GetStats() audit.Stats { return audit.Stats(q) }

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, fixedCounter(3), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
	assert.Equal(t, float64(3), data["workspaces"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	readiness := func(t *testing.T, handler *HealthHandler) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		handler.HandleReadiness(w, req)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		return w.Code, response["data"].(map[string]interface{})
	}

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(db, nil, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		code, data := readiness(t, NewHealthHandler(db, nil, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "unhealthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("query failed"))

		code, _ := readiness(t, NewHealthHandler(db, nil, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ready without a database", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, fixedCounter(0), logger))

		assert.Equal(t, http.StatusOK, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "disabled", checks["database"])
	})

	t.Run("audit writer state", func(t *testing.T) {
		tests := []struct {
			name     string
			stats    audit.Stats
			wantCode int
			want     string
		}{
			{"running", audit.Stats{BufferSize: 10, PendingEvents: 1, Started: true}, http.StatusOK, "healthy"},
			{"nearly full", audit.Stats{BufferSize: 10, PendingEvents: 9, Started: true}, http.StatusOK, "backlogged"},
			{"stopped", audit.Stats{BufferSize: 10}, http.StatusServiceUnavailable, "stopped"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				handler := NewHealthHandler(nil, nil, logger).WithAuditQueue(fixedQueue(tt.stats))
				code, data := readiness(t, handler)

				assert.Equal(t, tt.wantCode, code)
				checks := data["checks"].(map[string]interface{})
				assert.Equal(t, tt.want, checks["audit"])
			})
		}
	})
}
