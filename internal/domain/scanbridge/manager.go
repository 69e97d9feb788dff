// internal/domain/scanbridge/manager.go
package scanbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
)

const (
	sessionKeyPrefix = "scanbridge:session:"
	channelPrefix    = "scanbridge:events:"
)

// Script results below zero are failures.
const (
	resultNotFound = -1
	resultClosed   = -2
	resultExpired  = -3
)

// scanScript checks liveness, counts the scan and publishes it in one step,
// so a scan can never be published after the session's closed event.
// KEYS: session, channel. ARGV: now ms, session id, barcode, timestamp.
var scanScript = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'state', 'expires_at')
if not fields[1] then return -1 end
if fields[1] == 'CLOSED' then return -2 end
if tonumber(ARGV[1]) >= tonumber(fields[2]) then return -3 end
redis.call('HSET', KEYS[1], 'state', 'ACTIVE')
local seq = redis.call('HINCRBY', KEYS[1], 'scan_count', 1)
redis.call('PUBLISH', KEYS[2], cjson.encode({type='scan', session_id=ARGV[2], barcode=ARGV[3], seq=seq, at=ARGV[4]}))
return seq
`)

// connectScript moves CREATED to CONNECTED on the first subscriber.
// KEYS: session.
var connectScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'CLOSED' then return -2 end
if state == 'CREATED' then redis.call('HSET', KEYS[1], 'state', 'CONNECTED') end
return 1
`)

// closeScript marks the session closed and publishes the closed event once.
// KEYS: session, channel. ARGV: event payload.
var closeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'CLOSED' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'CLOSED')
redis.call('PUBLISH', KEYS[2], ARGV[1])
return 1
`)

// Manager issues pairing sessions and relays scans from phone to desktop.
// All state lives in Redis; expiry is checked on every access.
type Manager struct {
	rdb    redis.UniversalClient
	config config.ScanBridgeConfig
	signer *tokenSigner
	logger *logrus.Logger
	now    func() time.Time
}

// NewManager creates a new scan-bridge session manager
func NewManager(rdb redis.UniversalClient, cfg *config.Config, logger *logrus.Logger) *Manager {
	return &Manager{
		rdb:    rdb,
		config: cfg.ScanBridge,
		signer: newTokenSigner(cfg.ScanBridge.TokenSecret),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a pairing session for the desktop user createdBy
func (m *Manager) CreateSession(ctx context.Context, createdBy uint) (*Pairing, error) {
	readToken, err := newToken()
	if err != nil {
		return nil, err
	}
	writeToken, err := newToken()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := m.now()
	expiresAt := now.Add(m.config.SessionTTL)

	key := sessionKey(id)
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldState:       string(StateCreated),
			fieldCreatedBy:   createdBy,
			fieldCreatedAt:   now.UnixMilli(),
			fieldExpiresAt:   expiresAt.UnixMilli(),
			fieldReadDigest:  m.signer.digest(readToken),
			fieldWriteDigest: m.signer.digest(writeToken),
			fieldScanCount:   0,
		})
		// Redis only reclaims storage; liveness is decided by expires_at.
		pipe.PExpire(ctx, key, m.config.SessionTTL+m.config.Retention)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store scan-bridge session: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": id,
		"created_by": createdBy,
		"expires_at": expiresAt,
	}).Info("Scan-bridge session created")

	return &Pairing{
		SessionID: id,
		ReadToken: readToken,
		MobileURL: m.mobileURL(id, writeToken),
		ExpiresAt: expiresAt,
	}, nil
}

// Subscribe opens the desktop's event stream. The first event is always
// ready; scans follow in post order; a closed event ends the stream.
func (m *Manager) Subscribe(ctx context.Context, sessionID, readToken string) (*Subscription, error) {
	session, err := m.authorize(ctx, sessionID, readToken, false)
	if err != nil {
		return nil, err
	}

	pubsub := m.rdb.Subscribe(ctx, channelName(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to scan-bridge session: %w", err)
	}

	// A close that landed before the subscription was live would be missed,
	// so liveness is checked again now that we are listening.
	res, err := connectScript.Run(ctx, m.rdb, []string{sessionKey(sessionID)}).Int()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to connect scan-bridge session: %w", err)
	}
	if res == resultNotFound {
		pubsub.Close()
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}
	if res == resultClosed {
		pubsub.Close()
		return nil, apperror.New(apperror.ErrSessionExpired, "scan-bridge session %s is closed", sessionID)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.relay(subCtx, sub, pubsub, sessionID, session.ExpiresAt)

	m.logger.WithField("session_id", sessionID).Info("Scan-bridge subscriber connected")
	return sub, nil
}

// PostScan relays a barcode from the phone to the desktop
func (m *Manager) PostScan(ctx context.Context, sessionID, writeToken, barcode string) (*Event, error) {
	barcode = strings.TrimSpace(barcode)
	if err := m.validateBarcode(barcode); err != nil {
		return nil, err
	}

	if _, err := m.authorize(ctx, sessionID, writeToken, true); err != nil {
		return nil, err
	}

	now := m.now()
	at := now.Format(time.RFC3339Nano)
	seq, err := scanScript.Run(ctx, m.rdb,
		[]string{sessionKey(sessionID), channelName(sessionID)},
		now.UnixMilli(), sessionID, barcode, at,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to post scan: %w", err)
	}

	switch seq {
	case resultNotFound:
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	case resultClosed:
		return nil, apperror.New(apperror.ErrSessionExpired, "scan-bridge session %s is closed", sessionID)
	case resultExpired:
		m.expire(ctx, sessionID)
		return nil, apperror.New(apperror.ErrSessionExpired, "scan-bridge session %s has expired", sessionID)
	}

	m.logger.WithFields(logrus.Fields{"session_id": sessionID, "seq": seq}).Debug("Scan relayed")
	return &Event{Type: EventScan, SessionID: sessionID, Barcode: barcode, Seq: seq, At: now}, nil
}

// Close ends the session and its stream. Closing twice is not an error.
func (m *Manager) Close(ctx context.Context, sessionID, readToken string) error {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !m.signer.matches(readToken, session.readDigest) {
		return apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}
	if session.State == StateClosed {
		return nil
	}

	if _, err := m.markClosed(ctx, sessionID, ReasonClosed); err != nil {
		return err
	}
	m.logger.WithField("session_id", sessionID).Info("Scan-bridge session closed")
	return nil
}

// Status returns the session as the desktop sees it. An expired session is
// closed on the way out.
func (m *Manager) Status(ctx context.Context, sessionID, readToken string) (*Session, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !m.signer.matches(readToken, session.readDigest) {
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}
	if session.State != StateClosed && !m.now().Before(session.ExpiresAt) {
		m.expire(ctx, sessionID)
		session.State = StateClosed
	}
	return &session.Session, nil
}

// KeepAlive is the interval at which stream handlers should ping idle clients
func (m *Manager) KeepAlive() time.Duration {
	return m.config.KeepAlive
}

// HELPERS

// authorize loads the session, checks the token against the read or write
// digest and refuses closed or expired sessions.
func (m *Manager) authorize(ctx context.Context, sessionID, token string, write bool) (*storedSession, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	digest := session.readDigest
	if write {
		digest = session.writeDigest
	}
	// A wrong token must not reveal that the session exists.
	if !m.signer.matches(token, digest) {
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}

	if session.State == StateClosed {
		return nil, apperror.New(apperror.ErrSessionExpired, "scan-bridge session %s is closed", sessionID)
	}
	if !m.now().Before(session.ExpiresAt) {
		m.expire(ctx, sessionID)
		return nil, apperror.New(apperror.ErrSessionExpired, "scan-bridge session %s has expired", sessionID)
	}
	return session, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*storedSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}

	fields, err := m.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scan-bridge session: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}
	return parseSession(sessionID, fields)
}

// expire closes a session found past its deadline. Failures are logged only:
// the caller is already answering SessionExpired.
func (m *Manager) expire(ctx context.Context, sessionID string) {
	closed, err := m.markClosed(ctx, sessionID, ReasonExpired)
	if err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to close expired scan-bridge session")
		return
	}
	if closed {
		m.logger.WithField("session_id", sessionID).Info("Scan-bridge session expired")
	}
}

// markClosed reports whether this call performed the close
func (m *Manager) markClosed(ctx context.Context, sessionID, reason string) (bool, error) {
	payload, err := json.Marshal(Event{Type: EventClosed, SessionID: sessionID, Reason: reason, At: m.now()})
	if err != nil {
		return false, fmt.Errorf("failed to encode closed event: %w", err)
	}

	res, err := closeScript.Run(ctx, m.rdb,
		[]string{sessionKey(sessionID), channelName(sessionID)},
		string(payload),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to close scan-bridge session: %w", err)
	}
	if res == resultNotFound {
		return false, apperror.New(apperror.ErrNotFound, "scan-bridge session not found")
	}
	return res == 1, nil
}

// relay forwards published events to the subscriber until the session closes,
// expires, or the subscriber goes away.
func (m *Manager) relay(ctx context.Context, sub *Subscription, pubsub *redis.PubSub, sessionID string, expiresAt time.Time) {
	defer close(sub.done)
	defer close(sub.events)
	defer pubsub.Close()

	emit := func(ev Event) bool {
		select {
		case sub.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Event{Type: EventReady, SessionID: sessionID, At: m.now()}) {
		return
	}

	expiry := time.NewTimer(expiresAt.Sub(m.now()))
	defer expiry.Stop()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			m.expire(context.Background(), sessionID)
			emit(Event{Type: EventClosed, SessionID: sessionID, Reason: ReasonExpired, At: m.now()})
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				m.logger.WithError(err).WithField("session_id", sessionID).Warn("Dropping malformed scan-bridge event")
				continue
			}
			if !emit(ev) {
				return
			}
			if ev.Type == EventClosed {
				return
			}
		}
	}
}

func (m *Manager) validateBarcode(barcode string) error {
	n := utf8.RuneCountInString(barcode)
	if n == 0 {
		return apperror.New(apperror.ErrInvalidInput, "barcode is empty")
	}
	if n > m.config.MaxBarcodeLen {
		return apperror.New(apperror.ErrInvalidInput, "barcode is longer than %d characters", m.config.MaxBarcodeLen)
	}
	if !utf8.ValidString(barcode) {
		return apperror.New(apperror.ErrInvalidInput, "barcode is not valid UTF-8")
	}
	for _, r := range barcode {
		if !unicode.IsPrint(r) {
			return apperror.New(apperror.ErrInvalidInput, "barcode contains non-printable character %q", r)
		}
	}
	return nil
}

func (m *Manager) mobileURL(sessionID, writeToken string) string {
	return m.config.PublicBaseURL + "/scan/" + url.PathEscape(sessionID) + "?token=" + url.QueryEscape(writeToken)
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func channelName(id string) string {
	return channelPrefix + id
}

// Subscription is a live event stream for one desktop subscriber
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events delivers ready, then scans, then closed. The channel is closed when
// the stream ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops the stream and releases the Redis subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
