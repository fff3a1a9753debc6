package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// alertQueueSize is the bounded channel capacity for outbound alerts.
const alertQueueSize = 256

// AlertWebhook delivers security alerts to an external HTTP endpoint.
// Alerts are enqueued non-blockingly into a bounded channel and sent by a
// background goroutine; when the channel is full they are dropped.
type AlertWebhook struct {
	url        string
	authHeader string // "Header: Value" format, e.g. "Authorization: Bearer xxx"
	client     *http.Client
	alerts     chan AlertEvent
	wg         sync.WaitGroup
	retryDelay time.Duration
}

// NewAlertWebhook creates a dispatcher and starts its background loop.
func NewAlertWebhook(url, authHeader string) *AlertWebhook {
	w := &AlertWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		alerts:     make(chan AlertEvent, alertQueueSize),
		retryDelay: time.Second,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify is an AlertFunc. It never blocks.
func (w *AlertWebhook) Notify(evt AlertEvent) {
	select {
	case w.alerts <- evt:
	default:
		slog.Warn("alert webhook: queue full, dropping alert", "type", evt.Type, "ip", evt.IP)
	}
}

// Close shuts down the dispatcher, draining any queued alerts.
func (w *AlertWebhook) Close() {
	close(w.alerts)
	w.wg.Wait()
}

func (w *AlertWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.alerts {
		w.send(evt)
	}
}

// send POSTs the alert to the configured URL with one retry on 5xx.
func (w *AlertWebhook) send(evt AlertEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("alert webhook: marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("alert webhook: request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Terminguard-Alert-Webhook/1.0")

		if w.authHeader != "" {
			if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
				req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
			}
		}

		resp, err := w.client.Do(req)
		if err != nil {
			slog.Warn("alert webhook: request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if resp.StatusCode >= 500 {
			slog.Warn("alert webhook: server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		slog.Warn("alert webhook: client error", "status", resp.StatusCode)
		return
	}
}
