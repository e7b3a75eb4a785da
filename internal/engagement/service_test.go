package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/pkg/types"
)

type memoryStore struct {
	mu   sync.Mutex
	obs  []*types.Observation
	fail error
}

func (m *memoryStore) AppendObservation(_ context.Context, obs *types.Observation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	cp := *obs
	cp.ID = fmt.Sprintf("obs-%d", len(m.obs)+1)
	m.obs = append(m.obs, &cp)
	return cp.ID, nil
}

func (m *memoryStore) QueryObservations(_ context.Context, f types.ObservationFilter) ([]*types.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Observation
	for _, o := range m.obs {
		if f.SessionID == "" || o.SessionID == f.SessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

type broadcastRecorder struct {
	mu       sync.Mutex
	sessions []string
	msgs     []types.OutboundMessage
	members  int
}

func (b *broadcastRecorder) SendTo(string, interface{}) error { return nil }
func (b *broadcastRecorder) BroadcastAll(sessionID string, msg interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, sessionID)
	b.msgs = append(b.msgs, msg.(types.OutboundMessage))
	return b.members
}

type subscriberFunc func(types.EngagementUpdatePayload)

func (f subscriberFunc) Observe(u types.EngagementUpdatePayload) { f(u) }

var bob = types.Identity{AccountID: "bob", DisplayName: "Bob", Role: types.RoleStudent}

func score(v float64) *types.Score {
	s := types.Score(v)
	return &s
}

func newTestService(store *memoryStore, delivery *broadcastRecorder, subs ...Subscriber) *Service {
	svc := NewService(store, delivery, NewRateLimiter(100, time.Minute), nil, subs...)
	svc.now = func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubmit_PersistsThenBroadcasts(t *testing.T) {
	store := &memoryStore{}
	delivery := &broadcastRecorder{members: 2}
	var observed []types.EngagementUpdatePayload
	svc := newTestService(store, delivery, subscriberFunc(func(u types.EngagementUpdatePayload) {
		observed = append(observed, u)
	}))

	ack, err := svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(35), TransportID: "T2"})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, "obs-1", ack.ID)
	assert.Equal(t, 2, ack.Delivered)

	require.Len(t, store.obs, 1)
	obs := store.obs[0]
	assert.Equal(t, "bob", obs.StudentAccountID)
	assert.Equal(t, "Bob", obs.StudentName)
	assert.Equal(t, 35, obs.Score)
	assert.JSONEq(t, `{}`, string(obs.Detail))

	require.Len(t, delivery.msgs, 1)
	assert.Equal(t, "S1", delivery.sessions[0])
	assert.Equal(t, types.MessageTypeEngagementUpdate, delivery.msgs[0].Type)
	update := delivery.msgs[0].Payload.(types.EngagementUpdatePayload)
	assert.Equal(t, "Bob", update.DisplayName)
	assert.Equal(t, "T2", update.TransportID)
	assert.Equal(t, 35, update.Score)
	assert.Equal(t, ack.ObservedAt, update.ObservedAt)

	require.Len(t, observed, 1)
	assert.Equal(t, update, observed[0])
}

func TestSubmit_NoListenersStillSucceeds(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store, &broadcastRecorder{members: 0})

	ack, err := svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, ack.Delivered)
	assert.Len(t, store.obs, 1)
}

func TestSubmit_ClientErrorsAreNotPersistedOrBroadcast(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want func(error) bool
	}{
		{"missing session", Submission{Score: score(50)}, types.IsValidationError},
		{"missing score", Submission{SessionID: "S1"}, types.IsValidationError},
		{"score too high", Submission{SessionID: "S1", Score: score(140)}, func(err error) bool { return errors.Is(err, types.ErrInvalidScore) }},
		{"negative score", Submission{SessionID: "S1", Score: score(-1)}, func(err error) bool { return errors.Is(err, types.ErrInvalidScore) }},
		{"detail not object", Submission{SessionID: "S1", Score: score(50), Detail: json.RawMessage(`[1,2]`)}, func(err error) bool { return errors.Is(err, ErrInvalidDetail) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			delivery := &broadcastRecorder{}
			svc := newTestService(store, delivery)

			_, err := svc.Submit(context.Background(), bob, tt.sub)
			require.Error(t, err)
			assert.True(t, tt.want(err), "unexpected error %v", err)
			assert.Empty(t, store.obs)
			assert.Empty(t, delivery.msgs)
		})
	}
}

func TestSubmit_StorageFailureNotBroadcast(t *testing.T) {
	store := &memoryStore{fail: errors.New("disk full")}
	delivery := &broadcastRecorder{}
	svc := newTestService(store, delivery)

	_, err := svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(50)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistFailed))
	assert.Empty(t, delivery.msgs)
}

func TestSubmit_KeepsDetail(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store, &broadcastRecorder{})

	_, err := svc.Submit(context.Background(), bob, Submission{
		SessionID: "S1",
		Score:     score(72.4),
		Detail:    json.RawMessage(` {"gaze":"screen","faces":1} `),
	})
	require.NoError(t, err)
	assert.Equal(t, 72, store.obs[0].Score)
	assert.JSONEq(t, `{"gaze":"screen","faces":1}`, string(store.obs[0].Detail))
}

func TestSubmit_RateLimitedPerStudent(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store, &broadcastRecorder{}, NewRateLimiter(2, time.Minute), nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(50)})
		require.NoError(t, err)
	}
	_, err := svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(50)})
	assert.True(t, errors.Is(err, ErrRateLimited))

	eve := types.Identity{AccountID: "eve", DisplayName: "Eve"}
	_, err = svc.Submit(context.Background(), eve, Submission{SessionID: "S1", Score: score(50)})
	assert.NoError(t, err)
}

func TestSubmit_RequiresIdentity(t *testing.T) {
	svc := newTestService(&memoryStore{}, &broadcastRecorder{})
	_, err := svc.Submit(context.Background(), types.Identity{}, Submission{SessionID: "S1", Score: score(50)})
	assert.True(t, errors.Is(err, ErrMissingIdentity))
}

func TestListSession(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store, &broadcastRecorder{})
	_, _ = svc.Submit(context.Background(), bob, Submission{SessionID: "S1", Score: score(10)})
	_, _ = svc.Submit(context.Background(), bob, Submission{SessionID: "S2", Score: score(20)})

	list, err := svc.ListSession(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].Score)

	_, err = svc.ListSession(context.Background(), "bad id!")
	assert.True(t, types.IsValidationError(err))
}
