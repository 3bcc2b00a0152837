// Package token defines the KillToken, the single authorization record
// the destruction engine will accept. Tokens are either minted locally
// by the trigger aggregator (self-issued, implicitly trusted because
// they never leave the process) or fetched from the remote revocation
// authority, in which case they carry a detached Ed25519 signature that
// MUST verify against the embedded authority public key before the
// token is honored.
package token

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects how much the destruction engine erases.
type Mode uint8

const (
	// SelectiveErase destroys application data, secrets, and caches but
	// limits filesystem and metadata coverage to app-scoped targets.
	SelectiveErase Mode = iota
	// TotalObliteration erases every configured storage root and all
	// device bookkeeping metadata.
	TotalObliteration
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case SelectiveErase:
		return "selective_erase"
	case TotalObliteration:
		return "total_obliteration"
	default:
		return "unknown"
	}
}

// ParseMode maps a wire-format mode name back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "selective_erase":
		return SelectiveErase, nil
	case "total_obliteration":
		return TotalObliteration, nil
	default:
		return SelectiveErase, fmt.Errorf("unknown destruction mode %q", s)
	}
}

// SignatureSize is the size of a detached Ed25519 token signature.
const SignatureSize = ed25519.SignatureSize

// ErrVerificationFailed indicates a remote token whose signature is
// missing, malformed, or does not verify against the authority key.
// Such a token must be discarded, never executed.
var ErrVerificationFailed = errors.New("kill token signature verification failed")

// KillToken authorizes exactly one destruction run.
//
// A token is immutable once constructed. It is consumed by the engine;
// replaying the same CommandID is idempotent and does not start a
// second run.
type KillToken struct {
	CommandID     string
	DeviceID      string
	Mode          Mode
	Reason        string
	IssuedAt      time.Time
	TriggerSource string
	Signature     []byte
	AutoExecute   bool
}

// SelfIssued mints an unsigned token for a locally detected threat.
// No signature is attached: a self-issued token never crosses a trust
// boundary, so the signature field stays empty and the engine treats
// in-process provenance as sufficient authorization.
func SelfIssued(deviceID string, mode Mode, source, reason string, now time.Time) *KillToken {
	return &KillToken{
		CommandID:     uuid.New().String(),
		DeviceID:      deviceID,
		Mode:          mode,
		Reason:        reason,
		IssuedAt:      now,
		TriggerSource: source,
		AutoExecute:   true,
	}
}

// SigningPayload returns the canonical byte sequence the detached
// signature covers: command_id, device_id, reason, issued_at. Fields
// are length-prefixed so no two distinct tokens share a payload.
func (t *KillToken) SigningPayload() []byte {
	fields := [][]byte{
		[]byte(t.CommandID),
		[]byte(t.DeviceID),
		[]byte(t.Reason),
	}

	buf := make([]byte, 0, 64)
	for _, f := range fields {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(f)))
		buf = append(buf, l[:]...)
		buf = append(buf, f...)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.IssuedAt.Unix()))
	buf = append(buf, ts[:]...)

	return buf
}

// Sign attaches a detached Ed25519 signature over the token's signing
// payload. The 32-byte seed is expanded to a full private key, matching
// how the revocation authority stores its key material.
func (t *KillToken) Sign(seed [32]byte) {
	priv := ed25519.NewKeyFromSeed(seed[:])
	t.Signature = ed25519.Sign(priv, t.SigningPayload())
}

// Authority holds the statically embedded revocation authority public
// key. How the key is provisioned onto the device is a deployment
// concern; the monitor only needs the verify half.
type Authority struct {
	PublicKey [32]byte
}

// NewAuthority creates an Authority from a raw Ed25519 public key.
func NewAuthority(publicKey [32]byte) Authority {
	return Authority{PublicKey: publicKey}
}

// Verify checks the token's detached signature. An empty or
// wrong-length signature fails immediately; verification is a hard
// precondition for executing any remotely sourced token.
func (a Authority) Verify(t *KillToken) error {
	if t == nil {
		return errors.New("nil kill token")
	}
	if len(t.Signature) != SignatureSize {
		return ErrVerificationFailed
	}
	if !ed25519.Verify(a.PublicKey[:], t.SigningPayload(), t.Signature) {
		return ErrVerificationFailed
	}
	return nil
}
