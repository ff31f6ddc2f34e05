package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/authplane/authplane/internal/idgen"
	"github.com/authplane/authplane/internal/metrics"
	"github.com/authplane/authplane/internal/retry"
)

// DispatcherConfig tunes the delivery worker pool.
type DispatcherConfig struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	QueueSize   int
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Timeout:     10 * time.Second,
		QueueSize:   256,
	}
}

type job struct {
	webhookID string
	event     *Event
}

// Dispatcher delivers events through a bounded worker pool. Each job is
// one (webhook, event) pair; a worker retries it with exponential
// backoff up to MaxAttempts, appending a delivery log row per attempt.
// A webhook deleted mid-retry cancels its remaining attempts.
type Dispatcher struct {
	store  Store
	cfg    DispatcherConfig
	client *http.Client
	logger *slog.Logger

	jobs chan job
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(store Store, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
	})
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

// Enqueue hands an event to a specific webhook for delivery. Returns
// false when the queue is full; the event is dropped, which at-least-once
// permits only because callers log the drop.
func (d *Dispatcher) Enqueue(webhookID string, event *Event) bool {
	select {
	case d.jobs <- job{webhookID: webhookID, event: event}:
		metrics.WebhookQueueDepth.Set(float64(len(d.jobs)))
		return true
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("queue_full").Inc()
		d.logger.Error("webhook queue full, dropping event",
			"webhook_id", webhookID, "event_id", event.ID, "event_type", event.Type)
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			metrics.WebhookQueueDepth.Set(float64(len(d.jobs)))
			d.deliver(ctx, j)
		}
	}
}

// deliver runs the bounded retry loop for one job.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	payload, err := json.Marshal(j.event)
	if err != nil {
		d.logger.Error("webhook event marshal failed", "event_id", j.event.ID, "error", err)
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		// Reload per attempt: a webhook deleted or deactivated mid-retry
		// cancels the remaining attempts.
		w, err := d.store.Get(ctx, j.webhookID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				metrics.WebhookDeliveriesTotal.WithLabelValues("cancelled").Inc()
				d.logger.Info("webhook removed, cancelling delivery",
					"webhook_id", j.webhookID, "event_id", j.event.ID)
				return
			}
			d.logger.Error("webhook load failed", "webhook_id", j.webhookID, "error", err)
			return
		}
		if !w.Active {
			metrics.WebhookDeliveriesTotal.WithLabelValues("cancelled").Inc()
			return
		}

		delivery := d.attempt(ctx, w, j.event, payload, attempt)
		if err := d.store.AppendDelivery(ctx, delivery); err != nil {
			d.logger.Error("delivery log append failed", "webhook_id", w.ID, "error", err)
		}

		if delivery.Succeeded() {
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			now := time.Now().UTC()
			w.LastSuccess = &now
			w.LastError = ""
			if err := d.store.Update(ctx, w); err != nil && !errors.Is(err, ErrNotFound) {
				d.logger.Error("webhook status update failed", "webhook_id", w.ID, "error", err)
			}
			return
		}

		metrics.WebhookDeliveriesTotal.WithLabelValues("attempt_failed").Inc()
		w.LastError = delivery.Error
		if w.LastError == "" {
			w.LastError = fmt.Sprintf("status %d", delivery.StatusCode)
		}
		if err := d.store.Update(ctx, w); err != nil && !errors.Is(err, ErrNotFound) {
			d.logger.Error("webhook status update failed", "webhook_id", w.ID, "error", err)
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry.Backoff(attempt, d.cfg.BaseDelay, d.cfg.MaxDelay)):
		}
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("exhausted").Inc()
	d.logger.Warn("webhook delivery exhausted retries",
		"webhook_id", j.webhookID, "event_id", j.event.ID, "event_type", j.event.Type,
		"attempts", d.cfg.MaxAttempts)
}

// attempt performs one HTTP delivery and returns its log row.
func (d *Dispatcher) attempt(ctx context.Context, w *Webhook, event *Event, payload []byte, attempt int) *Delivery {
	delivery := &Delivery{
		ID:        idgen.WithPrefix("dlv_"),
		WebhookID: w.ID,
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   payload,
		Attempt:   attempt,
		CreatedAt: time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		delivery.Error = "invalid request: " + err.Error()
		return delivery
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Authplane-Event", string(event.Type))
	req.Header.Set("X-Authplane-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	req.Header.Set("X-Authplane-Signature", Sign(payload, w.Secret))

	start := time.Now()
	resp, err := d.client.Do(req)
	delivery.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		delivery.Error = "request failed: " + err.Error()
		return delivery
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	delivery.StatusCode = resp.StatusCode
	if !delivery.Succeeded() {
		delivery.Error = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return delivery
}

// Sign computes the hex HMAC-SHA256 signature of a payload. Receivers
// verify it against the X-Authplane-Signature header.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
