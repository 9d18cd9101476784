package notifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/qbit_mover/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := notifier.NewDiscordNotifier(ts.URL)
	require.NoError(t, n.Notify(context.Background(), "relocated Movie.mkv"))
	assert.Equal(t, "relocated Movie.mkv", got["content"])
}

func TestDiscordNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := notifier.NewDiscordNotifier(ts.URL, notifier.WithRetry(3, time.Millisecond))
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDiscordNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n := notifier.NewDiscordNotifier(ts.URL, notifier.WithRetry(3, time.Millisecond))
	err := n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDiscordNotifier_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	n := notifier.NewDiscordNotifier(ts.URL, notifier.WithRetry(3, time.Millisecond))
	require.Error(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDiscordNotifier_NoWebhook(t *testing.T) {
	n := notifier.NewDiscordNotifier("")
	assert.Error(t, n.Notify(context.Background(), "hello"))
}
