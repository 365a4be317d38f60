package faucetd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newAdminHandler(t *testing.T, h *harness) http.Handler {
	t.Helper()
	auth, err := NewAuthenticator("admin-token")
	require.NoError(t, err)
	return auth.Middleware(NewAdminServer(h.processor))
}

func adminRequest(method, path string, body []byte, token string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorRequiresToken(t *testing.T) {
	_, err := NewAuthenticator("  ")
	require.Error(t, err)

	h := newHarness(t)
	handler := newAdminHandler(t, h)
	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, adminRequest(http.MethodGet, "/status", nil, token))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	}

	req := adminRequest(http.MethodGet, "/status", nil, "")
	req.Header.Set("Authorization", "basic admin-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminPauseResumeStatus(t *testing.T) {
	h := newHarness(t)
	handler := newAdminHandler(t, h)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodGet, "/pause", nil, "admin-token"))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodPost, "/pause", nil, "admin-token"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, h.processor.Paused())

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodGet, "/status", nil, "admin-token"))
	require.Equal(t, http.StatusOK, rr.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.True(t, status.Paused)
	require.Equal(t, h.custodian.Address(), status.Custodian)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodPost, "/resume", nil, "admin-token"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.False(t, h.processor.Paused())
}

func TestAdminIntents(t *testing.T) {
	h := newHarness(t)
	handler := newAdminHandler(t, h)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodGet, "/intents", nil, "admin-token"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())

	intent, err := h.intents.Begin(newTarget())
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodGet, "/intents", nil, "admin-token"))
	var listed []Intent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, IntentReserved, listed[0].State)

	body, _ := json.Marshal(resolveRequest{ID: intent.ID})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodPost, "/intents/resolve", body, "admin-token"))
	require.Equal(t, http.StatusOK, rr.Code)
	var resolved Intent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resolved))
	require.Equal(t, IntentResolved, resolved.State)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodPost, "/intents/resolve", body, "admin-token"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest(http.MethodPost, "/intents/resolve", []byte("{"), "admin-token"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminResolveFinalIntentConflicts(t *testing.T) {
	h := newHarness(t)
	journal, err := OpenBoltIntentLog(t.TempDir() + "/intents.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	h.processor.intents = journal

	intent, err := journal.Begin(newTarget())
	require.NoError(t, err)
	_, err = journal.Update(intent.ID, func(in *Intent) { in.State = IntentConfirmed })
	require.NoError(t, err)

	body, _ := json.Marshal(resolveRequest{ID: intent.ID})
	rr := httptest.NewRecorder()
	newAdminHandler(t, h).ServeHTTP(rr, adminRequest(http.MethodPost, "/intents/resolve", body, "admin-token"))
	require.Equal(t, http.StatusConflict, rr.Code)
}
