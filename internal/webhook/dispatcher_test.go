package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDispatcher(store Store, maxAttempts int) *Dispatcher {
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 2
	cfg.MaxAttempts = maxAttempts
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	return NewDispatcher(store, cfg, testLogger())
}

func testEvent(realm string) *Event {
	return &Event{
		ID:        "evt_test1",
		Type:      EventProjectCreated,
		Realm:     realm,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"realm": realm},
	}
}

func registerHook(t *testing.T, store Store, url string) *Webhook {
	t.Helper()
	w := &Webhook{
		ID:        "wh_test1",
		Realm:     "acme",
		URL:       url,
		Secret:    "test-secret",
		Events:    []EventType{EventProjectCreated},
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), w))
	return w
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Two failures then a success: the delivery log must show all three
// attempts, and the endpoint must have received a valid signature.
func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	var gotSignature atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotSignature.Store(VerifySignature(body, "test-secret", r.Header.Get("X-Authplane-Signature")))
		assert.Equal(t, string(EventProjectCreated), r.Header.Get("X-Authplane-Event"))

		var event Event
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, "acme", event.Realm)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	hook := registerHook(t, store, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := testDispatcher(store, 5)
	d.Start(ctx)
	require.True(t, d.Enqueue(hook.ID, testEvent("acme")))

	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	})
	d.Stop()

	deliveries, err := store.Deliveries(ctx, hook.ID, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.Equal(t, 1, deliveries[0].Attempt)
	assert.Equal(t, 500, deliveries[0].StatusCode)
	assert.Equal(t, 2, deliveries[1].Attempt)
	assert.Equal(t, 500, deliveries[1].StatusCode)
	assert.Equal(t, 3, deliveries[2].Attempt)
	assert.Equal(t, 200, deliveries[2].StatusCode)
	assert.True(t, deliveries[2].Succeeded())

	// Every attempt keeps the exact body that was sent.
	for _, dl := range deliveries {
		var logged Event
		require.NoError(t, json.Unmarshal(dl.Payload, &logged))
		assert.Equal(t, "evt_test1", logged.ID)
		assert.Equal(t, EventProjectCreated, logged.Type)
		assert.Equal(t, "acme", logged.Realm)
	}

	assert.Equal(t, true, gotSignature.Load())

	updated, err := store.Get(ctx, hook.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSuccess)
	assert.Empty(t, updated.LastError)
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	hook := registerHook(t, store, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := testDispatcher(store, 3)
	d.Start(ctx)
	require.True(t, d.Enqueue(hook.ID, testEvent("acme")))

	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	})
	d.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	deliveries, err := store.Deliveries(ctx, hook.ID, 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 3)
	for _, dl := range deliveries {
		assert.False(t, dl.Succeeded())
		assert.Equal(t, 503, dl.StatusCode)
	}

	updated, err := store.Get(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, "status 503", updated.LastError)
	assert.Nil(t, updated.LastSuccess)
}

// Deleting a webhook mid-retry cancels the remaining attempts.
func TestDeletionCancelsRetries(t *testing.T) {
	var attempts int32
	store := NewMemoryStore()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// Delete the webhook after the first failed attempt.
			_ = store.Delete(context.Background(), "wh_test1")
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := registerHook(t, store, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := testDispatcher(store, 5)
	d.Start(ctx)
	require.True(t, d.Enqueue(hook.ID, testEvent("acme")))

	// Give the dispatcher time to notice the deletion.
	time.Sleep(200 * time.Millisecond)
	d.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestEmitterFanOut(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribed + active: delivered.
	require.NoError(t, store.Create(ctx, &Webhook{
		ID: "wh_sub", Realm: "acme", URL: srv.URL, Secret: "s",
		Events: []EventType{EventProjectCreated}, Active: true, CreatedAt: time.Now(),
	}))
	// Different event: skipped.
	require.NoError(t, store.Create(ctx, &Webhook{
		ID: "wh_other", Realm: "acme", URL: srv.URL, Secret: "s",
		Events: []EventType{EventUserCreated}, Active: true, CreatedAt: time.Now(),
	}))
	// Inactive: skipped.
	require.NoError(t, store.Create(ctx, &Webhook{
		ID: "wh_off", Realm: "acme", URL: srv.URL, Secret: "s",
		Events: []EventType{EventProjectCreated}, Active: false, CreatedAt: time.Now(),
	}))
	// Different realm: skipped.
	require.NoError(t, store.Create(ctx, &Webhook{
		ID: "wh_else", Realm: "globex", URL: srv.URL, Secret: "s",
		Events: []EventType{EventProjectCreated}, Active: true, CreatedAt: time.Now(),
	}))

	d := testDispatcher(store, 2)
	d.Start(ctx)
	e := NewEmitter(store, d, testLogger())
	e.EmitProjectCreated("acme", "Acme Corp", "pro")

	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt32(&hits) == 1
	})
	d.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSignRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	sig := Sign(payload, "secret")
	assert.True(t, VerifySignature(payload, "secret", sig))
	assert.False(t, VerifySignature(payload, "other", sig))
	assert.False(t, VerifySignature([]byte(`tampered`), "secret", sig))
}
