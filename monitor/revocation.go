package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/token"
	"github.com/opd-ai/scuttle/trigger"
)

// Revocation periodically polls the remote authority for a signed kill
// token issued out-of-band. Signature verification is a hard
// precondition: an unsigned or invalidly-signed token is discarded and
// logged, never returned for execution.
//
// Network failure is non-fatal; the poll interval backs off up to the
// configured maximum and recovers on the next success.
type Revocation struct {
	cfg       config.RevocationConfig
	deviceID  string
	authority token.Authority
	client    *http.Client
	limiter   *rate.Limiter
	log       *logrus.Logger

	mu       sync.Mutex
	interval time.Duration
}

// revocationPayload is the wire shape of a pending token. The
// signature is detached, base64-encoded, and covers
// {command_id, device_id, reason, issued_at}.
type revocationPayload struct {
	CommandID   string `json:"command_id"`
	Mode        string `json:"mode"`
	Reason      string `json:"reason"`
	IssuedAt    int64  `json:"issued_at"`
	AutoExecute bool   `json:"auto_execute"`
	Signature   string `json:"signature"`
}

// NewRevocation creates the poller. Pass nil for client or log to use
// defaults.
func NewRevocation(cfg config.RevocationConfig, deviceID string, authority token.Authority,
	client *http.Client, log *logrus.Logger) *Revocation {

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Revocation{
		cfg:       cfg,
		deviceID:  deviceID,
		authority: authority,
		client:    client,
		limiter:   rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		log:       log,
		interval:  cfg.PollInterval,
	}
}

// Interval returns the current poll interval, including any backoff
// applied after consecutive network failures.
func (m *Revocation) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Poll asks the authority for a pending revocation. It returns a
// verified token, or (nil, nil) when nothing is pending or the rate
// limiter suppresses the call. A verification failure returns
// token.ErrVerificationFailed and no token.
func (m *Revocation) Poll(ctx context.Context) (*token.KillToken, error) {
	if !m.cfg.Enabled {
		return nil, nil
	}
	if !m.limiter.Allow() {
		return nil, nil
	}

	url := fmt.Sprintf("%s/revocation-token/%s", strings.TrimRight(m.cfg.Endpoint, "/"), m.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build revocation request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.backoff()
		m.log.WithFields(logrus.Fields{
			"endpoint": m.cfg.Endpoint,
			"error":    err.Error(),
		}).Debug("Revocation poll failed, deferring to next interval")
		return nil, fmt.Errorf("revocation poll failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		m.reset()
		return nil, nil
	case http.StatusOK:
	default:
		m.backoff()
		return nil, fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}

	var payload revocationPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		m.backoff()
		return nil, fmt.Errorf("failed to decode revocation payload: %w", err)
	}
	m.reset()

	tok, err := m.buildToken(payload)
	if err != nil {
		return nil, err
	}

	if err := m.authority.Verify(tok); err != nil {
		m.log.WithFields(logrus.Fields{
			"command_id": tok.CommandID,
			"device_id":  m.deviceID,
		}).Warn("Revocation token failed signature verification, discarded")
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"command_id": tok.CommandID,
		"mode":       tok.Mode.String(),
	}).Warn("Verified revocation token received")
	return tok, nil
}

func (m *Revocation) buildToken(p revocationPayload) (*token.KillToken, error) {
	mode, err := token.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}

	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("malformed token signature: %w", err)
	}

	return &token.KillToken{
		CommandID:     p.CommandID,
		DeviceID:      m.deviceID,
		Mode:          mode,
		Reason:        p.Reason,
		IssuedAt:      time.Unix(p.IssuedAt, 0),
		TriggerSource: trigger.SourceRemoteRevocation.String(),
		Signature:     sig,
		AutoExecute:   p.AutoExecute,
	}, nil
}

func (m *Revocation) backoff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval *= 2
	if m.interval > m.cfg.MaxInterval {
		m.interval = m.cfg.MaxInterval
	}
}

func (m *Revocation) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = m.cfg.PollInterval
}
