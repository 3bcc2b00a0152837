// Package telemetry delivers destruction receipts to an audit sink.
// Delivery is strictly best-effort: a sink failure is logged and
// swallowed, and must never block or fail the destruction run that
// produced the receipt.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/scuttle/shred"
)

// Sink receives a destruction receipt for audit purposes.
type Sink interface {
	Deliver(ctx context.Context, receipt *shred.Receipt) error
}

// NopSink discards receipts.
type NopSink struct{}

// Deliver does nothing.
func (NopSink) Deliver(context.Context, *shred.Receipt) error { return nil }

// LogSink writes receipts to the structured log.
type LogSink struct {
	Log *logrus.Logger
}

// NewLogSink creates a LogSink. Pass nil to use the standard logger.
func NewLogSink(log *logrus.Logger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{Log: log}
}

// Deliver logs the receipt at Info level.
func (s *LogSink) Deliver(_ context.Context, receipt *shred.Receipt) error {
	if receipt == nil {
		return nil
	}
	s.Log.WithFields(logrus.Fields{
		"receipt_id":        receipt.ID,
		"command_id":        receipt.CommandID,
		"mode":              receipt.Mode,
		"phases_completed":  receipt.PhasesCompleted,
		"items_destroyed":   receipt.ItemsDestroyed,
		"bytes_overwritten": receipt.BytesOverwritten,
		"success":           receipt.Success,
		"errors":            len(receipt.Errors),
	}).Info("Destruction receipt")
	return nil
}

// defaultDeliverTimeout bounds how long a remote confirmation may
// take; the device is about to be unusable anyway.
const defaultDeliverTimeout = 5 * time.Second

// HTTPSink posts receipts as JSON to a remote confirmation endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger
}

// NewHTTPSink creates a sink posting to endpoint. Pass nil for client
// to use a short-timeout default.
func NewHTTPSink(endpoint string, client *http.Client, log *logrus.Logger) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: defaultDeliverTimeout}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPSink{endpoint: endpoint, client: client, log: log}
}

// Deliver posts the receipt. Errors are returned for observability but
// callers are expected to ignore them.
func (s *HTTPSink) Deliver(ctx context.Context, receipt *shred.Receipt) error {
	if receipt == nil {
		return nil
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build receipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"endpoint": s.endpoint,
			"error":    err.Error(),
		}).Warn("Receipt delivery failed")
		return fmt.Errorf("receipt delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.log.WithFields(logrus.Fields{
			"endpoint": s.endpoint,
			"status":   resp.StatusCode,
		}).Warn("Receipt delivery rejected")
		return fmt.Errorf("receipt delivery rejected: status %d", resp.StatusCode)
	}
	return nil
}
