// Package export ships finished analyses to an external webhook in
// batches, so downstream dashboards see leaderboards and regional reports
// without polling this service.
package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the exporter settings.
type Config struct {
	Enabled        bool
	WebhookURL     string
	WebhookAPIKey  string
	BatchSize      int
	ExportInterval time.Duration
}

// Exporter batches payloads and POSTs them to the configured webhook,
// either when the batch fills or on the export interval.
type Exporter struct {
	cfg        Config
	httpClient *http.Client

	mu    sync.Mutex
	batch []interface{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Exporter. A disabled config yields an inert exporter
// whose Add is a no-op.
func New(cfg Config) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Minute
	}

	e := &Exporter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				IdleConnTimeout: 90 * time.Second,
			},
		},
		batch: make([]interface{}, 0, cfg.BatchSize),
	}

	if cfg.Enabled && cfg.WebhookURL != "" {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		go e.periodicExport()
		logrus.Info("Webhook exporter initialized")
	}
	return e
}

// Add queues one analysis result for export.
func (e *Exporter) Add(payload interface{}) {
	if !e.cfg.Enabled || e.cfg.WebhookURL == "" {
		return
	}

	e.mu.Lock()
	e.batch = append(e.batch, payload)
	full := len(e.batch) >= e.cfg.BatchSize
	e.mu.Unlock()

	if full {
		go e.flush()
	}
}

// Close stops the background loop and flushes what is queued.
func (e *Exporter) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.flush()
}

func (e *Exporter) periodicExport() {
	ticker := time.NewTicker(e.cfg.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *Exporter) flush() {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.batch
	e.batch = make([]interface{}, 0, e.cfg.BatchSize)
	e.mu.Unlock()

	if err := e.post(batch); err != nil {
		logrus.Warnf("Webhook export failed, dropping %d payloads: %v", len(batch), err)
		return
	}
	logrus.Debugf("Exported %d payloads to webhook", len(batch))
}

func (e *Exporter) post(batch []interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"source":    "solar-finance-core",
		"timestamp": time.Now().Unix(),
		"payloads":  batch,
	})
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
