package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/internal/cli/health"
)

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler("dttape", nil, nil)
	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp health.Response
	decode(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "dttape", resp.Data.Service)
	assert.NotEmpty(t, resp.Data.StartedAt)
}

func TestReadiness(t *testing.T) {
	ok := Check{Name: "nst0", Type: "device", Fn: func(context.Context) error { return nil }}
	bad := Check{Name: "tapes", Type: "s3", Fn: func(context.Context) error { return errors.New("no such bucket") }}

	t.Run("NoChecks", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler("dttape", nil, nil).Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("AllHealthy", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler("dttape", []Check{ok}, nil).Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Status string        `json:"status"`
			Data   []CheckResult `json:"data"`
		}
		decode(t, w, &resp)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "nst0", resp.Data[0].Name)
		assert.Equal(t, "healthy", resp.Data[0].Status)
	})

	t.Run("OneFailing", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler("dttape", []Check{ok, bad}, nil).Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp struct {
			Status string        `json:"status"`
			Data   []CheckResult `json:"data"`
		}
		decode(t, w, &resp)
		assert.Equal(t, "unhealthy", resp.Status)
		require.Len(t, resp.Data, 2)
		assert.Equal(t, "unhealthy", resp.Data[1].Status)
		assert.Equal(t, "no such bucket", resp.Data[1].Error)
	})
}

func TestDriveInfo(t *testing.T) {
	t.Run("NoDrive", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler("dttape", nil, nil).Drive(w, httptest.NewRequest("GET", "/health/drive", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("WithDrive", func(t *testing.T) {
		info := func() any { return map[string]string{"name": "vtape:default"} }
		w := httptest.NewRecorder()
		NewHealthHandler("dttape", nil, info).Drive(w, httptest.NewRequest("GET", "/health/drive", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data map[string]string `json:"data"`
		}
		decode(t, w, &resp)
		assert.Equal(t, "vtape:default", resp.Data["name"])
	})
}
