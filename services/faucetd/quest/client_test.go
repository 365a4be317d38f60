package quest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitActionPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quest", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/"})
	err := client.SubmitAction(context.Background(), ActionFaucetDrip, "ADDR", map[string]any{"contractId": 6779767})
	require.NoError(t, err)

	require.Equal(t, ActionFaucetDrip, got["action"])
	data := got["data"].(map[string]any)
	require.Equal(t, float64(6779767), data["contractId"])
	wallets := data["wallets"].([]any)
	require.Len(t, wallets, 1)
	require.Equal(t, "ADDR", wallets[0].(map[string]any)["address"])
}

func TestSubmitActionNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).SubmitAction(context.Background(), ActionFaucetDrip, "ADDR", nil)
	require.ErrorContains(t, err, "unexpected status 500")
}

func TestSubmitActionTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).
		SubmitAction(context.Background(), ActionFaucetDrip, "ADDR", nil)
	require.Error(t, err)
}
