package parley

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*API, *Parley) {
	t.Helper()
	bot := &fakeTelegramBot{}
	p := newTestParley(t, bot, nil)
	p.startedAt = time.Now()

	cfg := DefaultConfig().API
	cfg.Listen = "127.0.0.1:0"
	return newAPI(p, cfg), p
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	a, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	a.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestQuotaSnapshotEndpoint(t *testing.T) {
	t.Parallel()
	a, p := newTestAPI(t)

	require.True(t, p.quota.CheckAndAdmit("12345", time.Now()))
	require.NoError(t, p.quota.Commit("12345"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathQuotas, nil)
	a.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DailyLimit int                        `json:"daily_limit"`
		Users      map[string]UserQuotaRecord `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, DefaultDailyLimit, body.DailyLimit)
	require.Contains(t, body.Users, "12345")
	assert.Equal(t, 1, body.Users["12345"].Count)
}
