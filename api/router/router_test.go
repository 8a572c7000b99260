package router

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/internal/database"
	"github.com/sshcollectorpro/netdev/internal/service"
	"github.com/sshcollectorpro/netdev/simulate"
)

type apiEnv struct {
	engine  *gin.Engine
	sshPort int
}

func newAPIEnv(t *testing.T, persist bool) *apiEnv {
	t.Helper()
	srv, err := simulate.Start(&simulate.Config{
		Listen:   "127.0.0.1:0",
		Password: "nova",
		Devices: map[string]simulate.DeviceConfig{
			"r1": {Platform: "cisco_ios", Hostname: "R1", StartPrivileged: true, Commands: map[string]string{"show clock": "10:00:00 UTC"}},
		},
	})
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	_, p, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	sshPort, err := strconv.Atoi(p)
	require.NoError(t, err)

	db, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "netdev.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Session: config.SessionConfig{
			ReadWindow:      20 * time.Millisecond,
			IdleWindows:     25,
			CommandTimeout:  5 * time.Second,
			DiscoverRetries: 3,
			DiscoverTimeout: time.Second,
		},
		Executor: config.ExecutorConfig{DefaultPlatform: "cisco_ios", DefaultTransport: "ssh", PersistHistory: persist},
		SSH:      config.SSHConfig{ConnectTimeout: 5 * time.Second},
		Storage:  config.StorageConfig{Backend: service.BackendNone},
	}
	svc := service.NewSessionService(cfg, db, service.NewStorageWriter(cfg.Storage))
	t.Cleanup(func() { _ = svc.Stop() })
	return &apiEnv{engine: SetupRouter(cfg, svc), sshPort: sshPort}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (e *apiEnv) execBody(password string) map[string]interface{} {
	return map[string]interface{}{
		"device":   "r1",
		"host":     "127.0.0.1",
		"port":     e.sshPort,
		"username": "r1",
		"password": password,
		"commands": []string{"show clock"},
	}
}

func TestHealthAndRoot(t *testing.T) {
	env := newAPIEnv(t, true)

	w, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["ssh_pool"])
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, body = env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := body["data"].(map[string]interface{})
	assert.Contains(t, stats, "ssh_pool")
	assert.Contains(t, stats["database"], "open_connections")

	w, body = env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, body["version"])

	w, body = env.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestPlatforms(t *testing.T) {
	env := newAPIEnv(t, true)

	w, body := env.do(t, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	names := []string{}
	for _, item := range body["data"].([]interface{}) {
		names = append(names, item.(map[string]interface{})["name"].(string))
	}
	assert.Contains(t, names, "cisco_ios")
	assert.Contains(t, names, "huawei")

	w, body = env.do(t, http.MethodGet, "/api/v1/platforms/vrp-alias-missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/platforms/ios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cisco_ios", body["data"].(map[string]interface{})["name"])
}

func TestExecAndHistory(t *testing.T) {
	env := newAPIEnv(t, true)

	w, body := env.do(t, http.MethodPost, "/api/v1/sessions/exec", env.execBody("nova"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "10:00:00 UTC", results[0].(map[string]interface{})["output"])
	jobID := body["job_id"].(string)

	w, body = env.do(t, http.MethodGet, "/api/v1/history/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := body["data"].(map[string]interface{})
	assert.Equal(t, "success", job["status"])
	assert.Len(t, job["commands"], 1)

	w, body = env.do(t, http.MethodGet, "/api/v1/history?host=127.0.0.1&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["total"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExec_ErrorStatuses(t *testing.T) {
	env := newAPIEnv(t, true)

	w, body := env.do(t, http.MethodPost, "/api/v1/sessions/exec", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", body["code"])

	w, body = env.do(t, http.MethodPost, "/api/v1/sessions/exec", map[string]interface{}{"commands": []string{"show clock"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])

	w, body = env.do(t, http.MethodPost, "/api/v1/sessions/exec", env.execBody("wrong"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, service.KindConnect, body["error_kind"])

	w, _ = env.do(t, http.MethodPost, "/api/v1/sessions/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatch(t *testing.T) {
	env := newAPIEnv(t, true)

	w, body := env.do(t, http.MethodPost, "/api/v1/sessions/batch", map[string]interface{}{
		"devices":    []interface{}{env.execBody("nova"), env.execBody("wrong")},
		"concurrent": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])

	w, _ = env.do(t, http.MethodPost, "/api/v1/sessions/batch", map[string]interface{}{"devices": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryDisabled(t *testing.T) {
	env := newAPIEnv(t, false)
	w, body := env.do(t, http.MethodGet, "/api/v1/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "HISTORY_DISABLED", body["code"])
}
