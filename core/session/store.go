// Package session maps a Telegram sender to a stable internal identity and
// a small conversation-state blob with sliding expiry.
//
// The internal identity is derived from the sender id alone, so every
// gateway instance computes the same value without coordination, and a
// session synthesized while the store is down is indistinguishable from a
// persisted one to the rest of the pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jdelaire/tgate/core/store"
)

// DefaultTTL is how long an idle session lives.
const DefaultTTL = 24 * time.Hour

// namespace seeds the name-based internal identities.
var namespace = uuid.MustParse("6f1c2b0e-8d3a-4c55-9a57-2e0c3f9d7b41")

// Session is a sender's resolved session.
type Session struct {
	SenderID          int64
	InternalID        string
	ConversationState []byte
	// ExpiresAt counts from the last state write. A touch without new
	// state can move the real expiry later.
	ExpiresAt time.Time

	// Persisted is false when the session was synthesized because the
	// store could not be reached.
	Persisted bool
}

// record is the stored form.
type record struct {
	InternalID string `cbor:"1,keyasint"`
	State      []byte `cbor:"2,keyasint,omitempty"`
	UpdatedAt  int64  `cbor:"3,keyasint"`
}

// InternalID derives the internal identity for a sender.
func InternalID(senderID int64) string {
	return uuid.NewSHA1(namespace, []byte("telegram:"+strconv.FormatInt(senderID, 10))).String()
}

func key(senderID int64) string {
	return fmt.Sprintf("session:telegram:%d", senderID)
}

// Store resolves and updates sessions in the shared store.
type Store struct {
	backend store.Store
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group

	degraded atomic.Int64
}

// New creates a session store. A non-positive ttl means DefaultTTL.
func New(backend store.Store, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve returns the sender's session, creating it if absent. It never
// fails: when the store is unavailable it returns a non-persisted session
// with the same internal identity.
func (s *Store) Resolve(ctx context.Context, senderID int64) Session {
	v, _, _ := s.group.Do(strconv.FormatInt(senderID, 10), func() (any, error) {
		return s.resolve(ctx, senderID), nil
	})
	sess := v.(Session)
	sess.ConversationState = append([]byte(nil), sess.ConversationState...)
	return sess
}

func (s *Store) resolve(ctx context.Context, senderID int64) Session {
	sess, err := s.load(ctx, senderID)
	switch {
	case err == nil:
		return sess
	case errors.Is(err, store.ErrNotFound):
	case errors.Is(err, store.ErrUnavailable):
		s.degraded.Add(1)
		s.logger.Warn("session store unavailable, using fallback session", "sender_id", senderID, "error", err)
		return s.fallback(senderID)
	default:
		// Undecodable record: start over.
		s.logger.Warn("discarding unreadable session", "sender_id", senderID, "error", err)
		return s.create(ctx, senderID, true)
	}
	return s.create(ctx, senderID, false)
}

func (s *Store) create(ctx context.Context, senderID int64, overwrite bool) Session {
	sess := s.fallback(senderID)
	data, err := s.encode(sess.InternalID, nil)
	if err != nil {
		s.logger.Error("encode session", "sender_id", senderID, "error", err)
		return sess
	}

	if overwrite {
		err = s.backend.Set(ctx, key(senderID), data, s.ttl)
	} else {
		var created bool
		created, err = s.backend.SetNX(ctx, key(senderID), data, s.ttl)
		if err == nil && !created {
			// Another request created it first; use theirs.
			existing, lerr := s.load(ctx, senderID)
			if lerr != nil {
				if errors.Is(lerr, store.ErrUnavailable) {
					s.degraded.Add(1)
				}
				s.logger.Warn("concurrently created session unreadable, using fallback session", "sender_id", senderID, "error", lerr)
				return sess
			}
			return existing
		}
	}
	if err != nil {
		s.degraded.Add(1)
		s.logger.Warn("session create failed, using fallback session", "sender_id", senderID, "error", err)
		return sess
	}

	s.logger.Info("session created", "sender_id", senderID, "internal_id", sess.InternalID)
	sess.Persisted = true
	return sess
}

func (s *Store) load(ctx context.Context, senderID int64) (Session, error) {
	data, err := s.backend.Get(ctx, key(senderID))
	if err != nil {
		return Session{}, err
	}

	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if rec.InternalID == "" {
		return Session{}, fmt.Errorf("decode session: empty internal id")
	}
	return Session{
		SenderID:          senderID,
		InternalID:        rec.InternalID,
		ConversationState: rec.State,
		ExpiresAt:         time.Unix(rec.UpdatedAt, 0).Add(s.ttl),
		Persisted:         true,
	}, nil
}

func (s *Store) fallback(senderID int64) Session {
	return Session{
		SenderID:   senderID,
		InternalID: InternalID(senderID),
		ExpiresAt:  s.now().Add(s.ttl),
	}
}

func (s *Store) encode(internalID string, state []byte) ([]byte, error) {
	return cbor.Marshal(record{
		InternalID: internalID,
		State:      state,
		UpdatedAt:  s.now().Unix(),
	})
}

// Touch stores new conversation state and restarts the TTL countdown. A nil
// state keeps the stored one and only restarts the countdown. Failures are
// logged and otherwise ignored.
func (s *Store) Touch(ctx context.Context, senderID int64, state []byte) {
	if state == nil {
		s.refresh(ctx, senderID)
		return
	}

	data, err := s.encode(InternalID(senderID), state)
	if err != nil {
		s.logger.Error("encode session", "sender_id", senderID, "error", err)
		return
	}
	if err := s.backend.Set(ctx, key(senderID), data, s.ttl); err != nil {
		s.logger.Debug("session touch failed", "sender_id", senderID, "error", err)
	}
}

// refresh extends the record's lifetime in one round trip, so a concurrent
// state write is never overwritten with older state.
func (s *Store) refresh(ctx context.Context, senderID int64) {
	ok, err := s.backend.Expire(ctx, key(senderID), s.ttl)
	if err != nil {
		s.logger.Debug("session touch failed", "sender_id", senderID, "error", err)
		return
	}
	if !ok {
		// Expired or reset since Resolve; start an empty one unless
		// someone else already has.
		s.create(ctx, senderID, false)
	}
}

// Reset destroys the sender's session. The next Resolve starts a new one
// with empty state.
func (s *Store) Reset(ctx context.Context, senderID int64) error {
	if err := s.backend.Delete(ctx, key(senderID)); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("session reset", "sender_id", senderID)
	return nil
}

// Degraded returns how many resolves fell back to a synthesized session.
func (s *Store) Degraded() int64 {
	return s.degraded.Load()
}
