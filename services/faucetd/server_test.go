package faucetd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"viafaucet/gateway/middleware"
)

func newTestServer(h *harness, cfg ServerConfig) *Server {
	if cfg.RecaptchaSiteKey == "" {
		cfg.RecaptchaSiteKey = "site-key"
	}
	cfg.ContractID = h.fake.AppID
	return NewServer(h.processor, cfg, discardLogger())
}

func submit(t *testing.T, srv http.Handler, form url.Values) (int, messageResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/submit-form", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.9:5555"
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body messageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestSubmitFormSuccessThenLimited(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{})
	target := newTarget()

	code, body := submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {target}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, MsgSuccess, body.Message)
	require.NotEmpty(t, body.TxID)

	code, body = submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {target}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, MsgRateLimited, body.Message)
}

func TestSubmitFormValidationMessages(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{})

	code, body := submit(t, srv, url.Values{"target": {newTarget()}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, MsgTokenMissing, body.Message)

	code, body = submit(t, srv, url.Values{"recaptcha": {"tok"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, MsgAddressMissing, body.Message)

	code, body = submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {"not-an-address"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, MsgAddressInvalid, body.Message)
}

func TestSubmitFormHidesInternalErrors(t *testing.T) {
	h := newHarness(t)
	h.fake.BuildErr = errors.New("node rejected params: secret detail")
	srv := newTestServer(h, ServerConfig{})

	code, body := submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {newTarget()}})
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, MsgInternal, body.Message)
	require.Empty(t, body.TxID)
}

func TestSubmitFormPaused(t *testing.T) {
	h := newHarness(t)
	h.processor.Pause()
	srv := newTestServer(h, ServerConfig{})

	code, body := submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {newTarget()}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, MsgPaused, body.Message)
}

func TestSubmitFormThrottlesPerClient(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{SubmitLimit: middleware.RateLimit{RequestsPerMinute: 1, Burst: 1}})

	code, _ := submit(t, srv, url.Values{"target": {newTarget()}})
	require.Equal(t, http.StatusBadRequest, code)
	code, body := submit(t, srv, url.Values{"target": {newTarget()}})
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "too many requests", body.Message)
}

func TestConfigEndpoint(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{DripAmount: "1000", Decimals: 6})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body configResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "site-key", body.RecaptchaSiteKey)
	require.Equal(t, h.fake.AppID, body.ContractID)
	require.Equal(t, "1000", body.DripAmount)
	require.Equal(t, int32(6), body.Decimals)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	submit(t, srv, url.Values{"recaptcha": {"tok"}, "target": {newTarget()}})
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "faucet_http_requests_total")
	require.Contains(t, rr.Body.String(), "faucet_faucetd_disbursements_total")
}

func TestCORSHeadersOnSubmit(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(h, ServerConfig{CORS: middleware.CORSConfig{AllowedOrigins: []string{"https://faucet.example"}}})

	req := httptest.NewRequest(http.MethodOptions, "/submit-form", nil)
	req.Header.Set("Origin", "https://faucet.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "https://faucet.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
