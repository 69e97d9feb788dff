// internal/domain/scanbridge/session.go
package scanbridge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// State is the connection state of a pairing session
type State string

const (
	StateCreated   State = "CREATED"
	StateConnected State = "CONNECTED"
	StateActive    State = "ACTIVE"
	StateClosed    State = "CLOSED"
)

// EventType names the events pushed to the desktop subscriber
type EventType string

const (
	EventReady  EventType = "ready"
	EventScan   EventType = "scan"
	EventClosed EventType = "closed"
)

// Close reasons carried on closed events
const (
	ReasonClosed  = "closed"
	ReasonExpired = "expired"
)

// Event is one message on a session's stream
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Barcode   string    `json:"barcode,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Pairing is what the desktop gets back when it opens a session. MobileURL
// embeds the write token and is meant to be rendered as a QR code.
type Pairing struct {
	SessionID string    `json:"session_id"`
	ReadToken string    `json:"read_token"`
	MobileURL string    `json:"mobile_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is the public view of a stored session; tokens are never exposed
type Session struct {
	ID        string    `json:"session_id"`
	State     State     `json:"state"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ScanCount int64     `json:"scan_count"`
}

// stored hash fields
const (
	fieldState       = "state"
	fieldCreatedBy   = "created_by"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
	fieldReadDigest  = "read_digest"
	fieldWriteDigest = "write_digest"
	fieldScanCount   = "scan_count"
)

type storedSession struct {
	Session
	readDigest  string
	writeDigest string
}

func parseSession(id string, fields map[string]string) (*storedSession, error) {
	createdBy, err := strconv.ParseUint(fields[fieldCreatedBy], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt scan-bridge session %s: created_by: %w", id, err)
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt scan-bridge session %s: created_at: %w", id, err)
	}
	expiresAt, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt scan-bridge session %s: expires_at: %w", id, err)
	}
	scanCount, _ := strconv.ParseInt(fields[fieldScanCount], 10, 64)

	return &storedSession{
		Session: Session{
			ID:        id,
			State:     State(fields[fieldState]),
			CreatedBy: uint(createdBy),
			CreatedAt: time.UnixMilli(createdAt).UTC(),
			ExpiresAt: time.UnixMilli(expiresAt).UTC(),
			ScanCount: scanCount,
		},
		readDigest:  fields[fieldReadDigest],
		writeDigest: fields[fieldWriteDigest],
	}, nil
}

// tokenSigner derives keyed digests of capability tokens so Redis never holds
// a usable token.
type tokenSigner struct {
	key [32]byte
}

func newTokenSigner(secret string) *tokenSigner {
	return &tokenSigner{key: blake2b.Sum256([]byte(secret))}
}

func (s *tokenSigner) digest(token string) string {
	h, err := blake2b.New256(s.key[:])
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *tokenSigner) matches(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.digest(token)), []byte(digest)) == 1
}

// newToken returns 256 random bits, URL-safe encoded
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
