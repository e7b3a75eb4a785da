package engagement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Store is the slice of storage the ingestion path needs
type Store interface {
	AppendObservation(ctx context.Context, obs *types.Observation) (string, error)
	QueryObservations(ctx context.Context, filter types.ObservationFilter) ([]*types.Observation, error)
}

// Subscriber consumes the fan-out stream in-process (alert board, bus mirror)
type Subscriber interface {
	Observe(update types.EngagementUpdatePayload)
}

// Submission is the client-provided part of an observation
type Submission struct {
	SessionID   string          `json:"sessionId" validate:"required,identifier"`
	Score       *types.Score    `json:"score" validate:"required"`
	TransportID string          `json:"transportId" validate:"omitempty,max=128"`
	Detail      json.RawMessage `json:"detail"`
}

// Ack confirms a persisted observation
type Ack struct {
	Success    bool      `json:"success"`
	ID         string    `json:"id"`
	ObservedAt time.Time `json:"observedAt"`
	Delivered  int       `json:"delivered"`
}

// Service ingests scored observations and fans them out to the session
// ARCHITECTURAL DISCOVERY: Persist-then-broadcast; persistence is the durable
// contract and delivery is best-effort, so a session with no live
// connections still accepts observations
type Service struct {
	store       Store
	delivery    interfaces.Delivery
	limiter     *RateLimiter
	subscribers []Subscriber
	now         func() time.Time
	logger      *slog.Logger
}

// NewService wires ingestion; delivery only ever reads the roster through the router
func NewService(store Store, delivery interfaces.Delivery, limiter *RateLimiter, logger *slog.Logger, subscribers ...Subscriber) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, time.Minute)
	}
	return &Service{
		store:       store,
		delivery:    delivery,
		limiter:     limiter,
		subscribers: subscribers,
		now:         time.Now,
		logger:      logger,
	}
}

// Submit validates, persists and broadcasts one observation for the caller
// FUNCTIONAL DISCOVERY: studentAccountId and the display name always come
// from the authenticated caller, never from the request body
func (s *Service) Submit(ctx context.Context, caller types.Identity, sub Submission) (*Ack, error) {
	if caller.AccountID == "" {
		return nil, ErrMissingIdentity
	}
	if err := types.ValidateStruct(sub); err != nil {
		return nil, err
	}

	score, err := sub.Score.Normalize()
	if err != nil {
		return nil, err
	}

	detail, err := normalizeDetail(sub.Detail)
	if err != nil {
		return nil, err
	}

	if !s.limiter.Allow(caller.AccountID) {
		return nil, ErrRateLimited
	}

	obs := &types.Observation{
		SessionID:        sub.SessionID,
		StudentAccountID: caller.AccountID,
		StudentName:      caller.DisplayName,
		Score:            score,
		TransportID:      sub.TransportID,
		Detail:           detail,
		ObservedAt:       s.now().UTC(),
	}

	id, err := s.store.AppendObservation(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	obs.ID = id

	update := types.EngagementUpdatePayload{
		SessionID:        obs.SessionID,
		StudentAccountID: obs.StudentAccountID,
		TransportID:      obs.TransportID,
		DisplayName:      obs.StudentName,
		Score:            obs.Score,
		ObservedAt:       obs.ObservedAt,
	}

	delivered := s.delivery.BroadcastAll(obs.SessionID, types.NewOutbound(types.MessageTypeEngagementUpdate, update))
	for _, sub := range s.subscribers {
		sub.Observe(update)
	}

	s.logger.Debug("engagement observation accepted",
		"session_id", obs.SessionID,
		"account_id", obs.StudentAccountID,
		"score", obs.Score,
		"delivered", delivered)

	return &Ack{Success: true, ID: id, ObservedAt: obs.ObservedAt, Delivered: delivered}, nil
}

// ListSession returns a session's raw observations in observedAt order
func (s *Service) ListSession(ctx context.Context, sessionID string) ([]*types.Observation, error) {
	if !types.IsValidIdentifier(sessionID) {
		return nil, &types.ValidationError{Fields: map[string]string{"sessionId": "sessionId is invalid"}}
	}
	return s.store.QueryObservations(ctx, types.ObservationFilter{SessionID: sessionID})
}

// RunCleanup prunes idle rate limiter entries until ctx is done
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// normalizeDetail defaults a missing detail to {} and rejects non-objects
func normalizeDetail(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidDetail
	}
	return json.RawMessage(trimmed), nil
}
