package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/audit"
	"github.com/turbotransfer/host/internal/config"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/repository"
	"github.com/turbotransfer/host/internal/sse"
	"github.com/turbotransfer/host/internal/transfer"
	"github.com/turbotransfer/host/internal/util"
)

const (
	EventSessionCreated       = "session_created"
	EventSessionAuthenticated = "session_authenticated"
	EventSessionExpired       = "session_expired"
	EventSessionRemoved       = "session_removed"
	EventSessionBlocked       = "session_blocked"
	EventSessionsReset        = "sessions_reset"
)

// SessionStorage is the slice of the transfer store the registry cascades
// session removal into and reserves device namespaces from.
type SessionStorage interface {
	CleanupSession(sessionID string) error
	CleanupTransient() error
	NamespaceAvailable(device, fingerprint string) bool
	ClaimNamespace(device, fingerprint string) error
}

const maxDeviceNameLength = 64

type RegistryOptions struct {
	PINTTL      time.Duration
	MaxSessions int
	Now         func() time.Time
}

// SessionRegistry is the single owner of session state. Its mutex guards
// only the in-memory check and update; storage cleanup, blocklist writes
// and event publishing happen after it is released.
type SessionRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*model.Session
	order      []string
	tombstones map[string]time.Time
	running    bool

	pinTTL      time.Duration
	maxSessions int
	now         func() time.Time

	blocklist repository.BlocklistRepository
	storage   SessionStorage
	events    EventPublisher
}

func NewSessionRegistry(
	blocklist repository.BlocklistRepository,
	storage SessionStorage,
	events EventPublisher,
	opts RegistryOptions,
) *SessionRegistry {
	if opts.PINTTL <= 0 {
		opts.PINTTL = 120 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionRegistry{
		sessions:    make(map[string]*model.Session),
		tombstones:  make(map[string]time.Time),
		pinTTL:      opts.PINTTL,
		maxSessions: opts.MaxSessions,
		now:         opts.Now,
		blocklist:   blocklist,
		storage:     storage,
		events:      events,
	}
}

// Start makes the registry accept new sessions. Sent buffers left over from
// a previous process belong to sessions that no longer exist and are removed.
func (r *SessionRegistry) Start(ctx context.Context) error {
	if err := r.storage.CleanupTransient(); err != nil {
		return fmt.Errorf("cleanup transient storage: %w", err)
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	log.Info().Dur("pinTtl", r.pinTTL).Int("maxSessions", r.maxSessions).Msg("session registry started")
	return nil
}

// Stop drops every session and its transient storage, then tells
// subscribers their sessions are gone. The broker itself belongs to the
// caller.
func (r *SessionRegistry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.running = false
	count := len(r.sessions)
	r.clearLocked()
	r.mu.Unlock()

	err := r.storage.CleanupTransient()
	r.publish(ctx, sse.TopicBroadcast, EventSessionsReset, map[string]int{"removed": count})

	log.Info().Int("sessions", count).Msg("session registry stopped")
	return err
}

func (r *SessionRegistry) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	if params.Fingerprint != "" {
		blocked, err := r.blocklist.FindByFingerprint(ctx, params.Fingerprint)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if blocked != nil {
			audit.Log(ctx, audit.Event{
				Type:       audit.EventBlockedAttempt,
				DeviceName: params.DeviceName,
			})
			return nil, apperrors.Unauthorized("Device is blocked")
		}
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, apperrors.Internal("Session registry is not running")
	}

	now := r.now()
	r.sweepLocked(now)

	var replaced []string
	if params.Fingerprint != "" {
		for _, id := range r.order {
			s := r.sessions[id]
			if s.IsPending() && s.Fingerprint == params.Fingerprint {
				replaced = append(replaced, id)
			}
		}
		for _, id := range replaced {
			r.removeLocked(id)
		}
	}

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, apperrors.CapacityExceeded(r.maxSessions)
	}

	pin, err := r.uniquePINLocked()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	session := &model.Session{
		ID:           uuid.NewString(),
		DeviceName:   r.uniqueDeviceNameLocked(params.DeviceName, params.Fingerprint),
		Fingerprint:  params.Fingerprint,
		Status:       model.SessionStatusPendingVerification,
		PIN:          pin,
		PINExpiresAt: now.Add(r.pinTTL),
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	r.sessions[session.ID] = session
	r.order = append(r.order, session.ID)
	created := *session
	r.mu.Unlock()

	for _, id := range replaced {
		r.publish(ctx, sse.SessionTopic(id), EventSessionRemoved, map[string]string{"session_id": id})
	}
	r.publish(ctx, sse.SessionTopic(created.ID), EventSessionCreated, created.WithoutPIN())

	log.Info().
		Str("sessionId", created.ID).
		Str("deviceName", created.DeviceName).
		Time("expiresAt", created.PINExpiresAt).
		Msg("session created")

	return &created, nil
}

// uniquePINLocked picks a PIN not held by any pending session. Callers must
// have swept expired sessions first.
func (r *SessionRegistry) uniquePINLocked() (string, error) {
	inUse := make(map[string]bool)
	for _, s := range r.sessions {
		if s.IsPending() {
			inUse[s.PIN] = true
		}
	}
	if len(inUse) >= pinSpaceSize {
		return "", apperrors.CapacityExceeded(pinSpaceSize)
	}
	return pickPIN(inUse)
}

// uniqueDeviceNameLocked returns name, or the first "name (n)" variant,
// whose received namespace no other device holds. A namespace is held by a
// live session with a different or unknown fingerprint, or on disk by
// another owner. Devices without a fingerprint never share.
func (r *SessionRegistry) uniqueDeviceNameLocked(name, fingerprint string) string {
	name = truncateRunes(strings.TrimSpace(name), maxDeviceNameLength)
	if name == "" {
		name = DeviceNameFromUserAgent("")
	}

	held := make(map[string]bool)
	for _, s := range r.sessions {
		if fingerprint == "" || s.Fingerprint != fingerprint {
			held[transfer.DeviceDirName(s.DeviceName)] = true
		}
	}
	taken := func(label string) bool {
		return held[transfer.DeviceDirName(label)] || !r.storage.NamespaceAvailable(label, fingerprint)
	}

	label := name
	for i := 2; taken(label); i++ {
		label = fmt.Sprintf("%s (%d)", name, i)
	}
	return label
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Verify authenticates sessionID with pin. A wrong PIN leaves the session
// pending so the device may retry until the PIN expires.
func (r *SessionRegistry) Verify(ctx context.Context, sessionID, pin string) (*model.Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		_, expired := r.tombstones[sessionID]
		r.mu.Unlock()
		if expired {
			return nil, apperrors.PINExpired()
		}
		return nil, apperrors.NotFound("Session")
	}

	result, err := r.verifyLocked(session, pin)
	r.mu.Unlock()

	r.afterVerify(ctx, sessionID, result, err)
	return result, err
}

// VerifyPIN authenticates the single pending session holding pin.
func (r *SessionRegistry) VerifyPIN(ctx context.Context, pin string) (*model.Session, error) {
	r.mu.Lock()
	now := r.now()
	expired := r.sweepLocked(now)

	var match *model.Session
	for _, id := range r.order {
		s := r.sessions[id]
		if s.IsPending() && util.ConstantTimeEqual(s.PIN, pin) {
			match = s
			break
		}
	}
	if match == nil {
		r.mu.Unlock()
		r.publishExpired(ctx, expired)
		return nil, apperrors.InvalidPIN()
	}

	result, err := r.verifyLocked(match, pin)
	r.mu.Unlock()

	r.publishExpired(ctx, expired)
	r.afterVerify(ctx, match.ID, result, err)
	return result, err
}

func (r *SessionRegistry) verifyLocked(session *model.Session, pin string) (*model.Session, error) {
	switch session.Status {
	case model.SessionStatusAuthenticated:
		return nil, apperrors.AlreadyPaired()
	case model.SessionStatusPendingVerification:
	default:
		return nil, apperrors.Unauthorized("Session is not awaiting verification")
	}

	now := r.now()
	if now.After(session.PINExpiresAt) {
		r.expireLocked(session.ID, now)
		return nil, apperrors.PINExpired()
	}

	if !util.ConstantTimeEqual(session.PIN, pin) {
		return nil, apperrors.InvalidPIN()
	}

	session.Status = model.SessionStatusAuthenticated
	session.PIN = ""
	session.LastSeenAt = now
	verified := *session
	return &verified, nil
}

func (r *SessionRegistry) afterVerify(ctx context.Context, sessionID string, session *model.Session, err error) {
	switch {
	case err == nil:
		if claimErr := r.storage.ClaimNamespace(session.DeviceName, session.Fingerprint); claimErr != nil {
			log.Error().Err(claimErr).Str("sessionId", session.ID).Msg("failed to claim device namespace")
		}
		audit.Log(ctx, audit.Event{
			Type:       audit.EventVerifySuccess,
			SessionID:  session.ID,
			DeviceName: session.DeviceName,
		})
		r.publish(ctx, sse.SessionTopic(session.ID), EventSessionAuthenticated, session)
	case apperrors.HasCode(err, apperrors.ErrCodePINExpired):
		r.publishExpired(ctx, []string{sessionID})
	default:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventVerifyFailure,
			SessionID: sessionID,
			Details:   map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
	}
}

func (r *SessionRegistry) List() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]model.Session, 0, len(r.order))
	for _, id := range r.order {
		sessions = append(sessions, *r.sessions[id])
	}
	return sessions
}

func (r *SessionRegistry) Get(sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	found := *session
	return &found, nil
}

// Authorize returns the session only while it is authenticated and records
// the access.
func (r *SessionRegistry) Authorize(sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || !session.IsAuthenticated() {
		return nil, apperrors.Unauthorized("Invalid or expired session")
	}
	session.LastSeenAt = r.now()
	authorized := *session
	return &authorized, nil
}

// Block removes the session and remembers its device so future pairing
// attempts from it are refused.
func (r *SessionRegistry) Block(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("Session")
	}
	session.Status = model.SessionStatusBlocked
	blocked := *session
	r.removeLocked(sessionID)
	r.mu.Unlock()

	var blockErr error
	if blocked.Fingerprint != "" {
		blockErr = r.blocklist.Add(ctx, model.BlockedDevice{
			Fingerprint: blocked.Fingerprint,
			DeviceName:  blocked.DeviceName,
			BlockedAt:   r.now(),
		})
	} else {
		log.Warn().
			Str("sessionId", sessionID).
			Msg("blocked session has no device fingerprint; re-pairing cannot be refused")
	}

	r.cleanup(sessionID)

	audit.Log(ctx, audit.Event{
		Type:       audit.EventSessionBlock,
		SessionID:  sessionID,
		DeviceName: blocked.DeviceName,
	})
	r.publish(ctx, sse.SessionTopic(sessionID), EventSessionBlocked, map[string]string{"session_id": sessionID})

	if blockErr != nil {
		return apperrors.Database(blockErr)
	}
	return nil
}

func (r *SessionRegistry) Disconnect(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("Session")
	}
	deviceName := session.DeviceName
	r.removeLocked(sessionID)
	r.mu.Unlock()

	r.cleanup(sessionID)

	audit.Log(ctx, audit.Event{
		Type:       audit.EventSessionRemove,
		SessionID:  sessionID,
		DeviceName: deviceName,
	})
	r.publish(ctx, sse.SessionTopic(sessionID), EventSessionRemoved, map[string]string{"session_id": sessionID})
	return nil
}

// ResetAll drops every session and all transient transfer storage.
func (r *SessionRegistry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	count := len(r.sessions)
	r.clearLocked()
	r.mu.Unlock()

	if err := r.storage.CleanupTransient(); err != nil {
		return fmt.Errorf("cleanup transient storage: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventSessionsReset,
		Details: map[string]interface{}{"sessions": count},
	})
	r.publish(ctx, sse.TopicBroadcast, EventSessionsReset, map[string]int{"removed": count})
	return nil
}

func (r *SessionRegistry) Unblock(ctx context.Context, fingerprint string) error {
	removed, err := r.blocklist.Delete(ctx, fingerprint)
	if err != nil {
		return apperrors.Database(err)
	}
	if !removed {
		return apperrors.NotFound("Blocked device")
	}
	audit.Log(ctx, audit.Event{
		Type:    audit.EventSessionUnblock,
		Details: map[string]interface{}{"fingerprint": fingerprint},
	})
	return nil
}

func (r *SessionRegistry) ListBlocked(ctx context.Context) ([]model.BlockedDevice, error) {
	devices, err := r.blocklist.List(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return devices, nil
}

// SweepExpired removes pending sessions whose PIN has expired.
func (r *SessionRegistry) SweepExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	expired := r.sweepLocked(r.now())
	r.mu.Unlock()

	r.publishExpired(ctx, expired)
	return int64(len(expired)), nil
}

func (r *SessionRegistry) sweepLocked(now time.Time) []string {
	for id, at := range r.tombstones {
		if now.Sub(at) > config.ExpiredSessionTTL {
			delete(r.tombstones, id)
		}
	}

	var expired []string
	for _, id := range r.order {
		s := r.sessions[id]
		if s.IsPending() && now.After(s.PINExpiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.expireLocked(id, now)
	}
	return expired
}

func (r *SessionRegistry) expireLocked(sessionID string, now time.Time) {
	r.removeLocked(sessionID)
	r.tombstones[sessionID] = now
}

func (r *SessionRegistry) removeLocked(sessionID string) {
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *SessionRegistry) clearLocked() {
	r.sessions = make(map[string]*model.Session)
	r.order = nil
	r.tombstones = make(map[string]time.Time)
}

func (r *SessionRegistry) cleanup(sessionID string) {
	if err := r.storage.CleanupSession(sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to cleanup session storage")
	}
}

func (r *SessionRegistry) publishExpired(ctx context.Context, ids []string) {
	for _, id := range ids {
		r.publish(ctx, sse.SessionTopic(id), EventSessionExpired, map[string]string{"session_id": id})
	}
}

func (r *SessionRegistry) publish(ctx context.Context, topic, eventType string, data any) {
	publish(ctx, r.events, topic, eventType, data)
}
