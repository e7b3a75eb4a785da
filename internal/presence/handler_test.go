package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/internal/roster"
	"classlens/pkg/types"
)

type sent struct {
	to  string
	msg types.OutboundMessage
}

// fakeDelivery resolves session membership through the real roster so
// broadcasts reach exactly the connections the router would
type fakeDelivery struct {
	mu     sync.Mutex
	roster *roster.Roster
	out    []sent
}

func (f *fakeDelivery) SendTo(connectionID string, msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{to: connectionID, msg: msg.(types.OutboundMessage)})
	return nil
}

func (f *fakeDelivery) BroadcastAll(sessionID string, msg interface{}) int {
	n := 0
	for _, id := range f.roster.Connections(sessionID) {
		_ = f.SendTo(id, msg)
		n++
	}
	return n
}

func (f *fakeDelivery) to(connectionID string) []types.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []types.OutboundMessage
	for _, s := range f.out {
		if s.to == connectionID {
			msgs = append(msgs, s.msg)
		}
	}
	return msgs
}

func (f *fakeDelivery) ofType(msgType string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.out {
		if s.msg.Type == msgType {
			out = append(out, s)
		}
	}
	return out
}

func newTestHandler() (*Handler, *roster.Roster, *fakeDelivery) {
	r := roster.New()
	d := &fakeDelivery{roster: r}
	return NewHandler(r, d, nil), r, d
}

var (
	alice = types.Identity{AccountID: "alice", DisplayName: "Alice", Role: types.RoleTeacher}
	bob   = types.Identity{AccountID: "bob", DisplayName: "Bob", Role: types.RoleStudent}
)

func TestJoin_SendsSnapshotToJoinerOnly(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1", Role: types.RoleTeacher, DisplayName: "Alice"})

	msgs := d.to("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, types.MessageTypeExistingParticipants, msgs[0].Type)
	payload := msgs[0].Payload.(types.ExistingParticipantsPayload)
	assert.Empty(t, payload.Participants)
	assert.NotNil(t, payload.Participants, "empty list must encode as []")

	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	assert.Len(t, d.to("c1"), 1, "join must not notify other members")
}

func TestAnnounce_BroadcastsToEveryoneIncludingSender(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T2", DisplayName: "Bob", Role: types.RoleStudent})

	updates := d.ofType(types.MessageTypeParticipantUpdate)
	require.Len(t, updates, 2)
	recipients := []string{updates[0].to, updates[1].to}
	assert.ElementsMatch(t, []string{"c1", "c2"}, recipients)

	view := updates[0].msg.Payload.(types.ParticipantView)
	assert.Equal(t, types.ParticipantView{TransportID: "T2", DisplayName: "Bob", Role: types.RoleStudent}, view)
}

func TestJoin_SnapshotContainsAnnouncedPeersOnly(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c1", alice, types.SendTransportID{SessionID: "S1", TransportID: "T1"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})

	h.HandleMessage("c3", types.Identity{AccountID: "eve", DisplayName: "Eve", Role: types.RoleStudent},
		types.JoinSession{SessionID: "S1"})

	msgs := d.to("c3")
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload.(types.ExistingParticipantsPayload)
	require.Len(t, payload.Participants, 1)
	assert.Equal(t, "T1", payload.Participants[0].TransportID)
	assert.Equal(t, "Alice", payload.Participants[0].DisplayName)
	assert.Equal(t, types.RoleTeacher, payload.Participants[0].Role)
}

func TestAnnounceBeforeJoin_JoinerSeesOthersNotSelf(t *testing.T) {
	h, r, d := newTestHandler()

	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T2"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1", DisplayName: "Bobby"})

	var snapshot types.ExistingParticipantsPayload
	for _, m := range d.to("c2") {
		if m.Type == types.MessageTypeExistingParticipants {
			snapshot = m.Payload.(types.ExistingParticipantsPayload)
		}
	}
	assert.Empty(t, snapshot.Participants)

	p, ok := r.Participant("S1", "c2")
	require.True(t, ok)
	assert.Equal(t, "T2", p.TransportID)
	assert.Equal(t, "Bobby", p.DisplayName)
}

func TestLeave_BroadcastsOnceThenNoop(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T2"})

	h.HandleMessage("c2", bob, types.LeaveSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.LeaveSession{SessionID: "S1"})

	left := d.ofType(types.MessageTypeParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "c1", left[0].to)
	assert.Equal(t, types.ParticipantLeftPayload{TransportID: "T2"}, left[0].msg.Payload)
}

func TestLeave_UnannouncedIsSilent(t *testing.T) {
	h, r, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.LeaveSession{SessionID: "S1"})

	assert.Empty(t, d.ofType(types.MessageTypeParticipantLeft))
	assert.Equal(t, []string{"c1"}, r.Connections("S1"))
}

func TestLeave_UnknownConnectionTolerated(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("ghost", bob, types.LeaveSession{SessionID: "nowhere"})
	assert.Empty(t, d.ofType(types.MessageTypeParticipantLeft))
}

func TestDisconnect_BroadcastsLeftInEverySession(t *testing.T) {
	h, r, d := newTestHandler()

	h.HandleMessage("c1", alice, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c3", alice, types.JoinSession{SessionID: "S2"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T2"})
	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S2"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S2", TransportID: "T2"})

	h.HandleDisconnect("c2")

	left := d.ofType(types.MessageTypeParticipantLeft)
	require.Len(t, left, 2)
	assert.ElementsMatch(t, []string{"c1", "c3"}, []string{left[0].to, left[1].to})

	assert.Equal(t, []string{"c1"}, r.Connections("S1"))
	assert.Equal(t, []string{"c3"}, r.Connections("S2"))

	h.HandleDisconnect("c2")
	assert.Len(t, d.ofType(types.MessageTypeParticipantLeft), 2)
}

func TestAnnounce_ConflictRebroadcastsOriginal(t *testing.T) {
	h, _, d := newTestHandler()

	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T2"})
	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "T9"})

	updates := d.ofType(types.MessageTypeParticipantUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, "T2", updates[1].msg.Payload.(types.ParticipantView).TransportID)
}

func TestJoin_FallsBackToIdentity(t *testing.T) {
	h, r, _ := newTestHandler()

	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1"})

	p, ok := r.Participant("S1", "c2")
	require.True(t, ok)
	assert.Equal(t, "Bob", p.DisplayName)
	assert.Equal(t, types.RoleStudent, p.Role)
	assert.Equal(t, "bob", p.AccountID)
}

func TestRole_AuthenticatedRoleWinsOverFrame(t *testing.T) {
	h, r, d := newTestHandler()

	h.HandleMessage("c2", bob, types.JoinSession{SessionID: "S1", Role: types.RoleTeacher})
	p, ok := r.Participant("S1", "c2")
	require.True(t, ok)
	assert.Equal(t, types.RoleStudent, p.Role)

	h.HandleMessage("c2", bob, types.SendTransportID{SessionID: "S1", TransportID: "tr-bob", Role: types.RoleTeacher})
	out := d.to("c2")
	require.NotEmpty(t, out)
	view, ok := out[len(out)-1].Payload.(types.ParticipantView)
	require.True(t, ok)
	assert.Equal(t, types.RoleStudent, view.Role)
}

func TestRole_FrameFillsMissingIdentityRole(t *testing.T) {
	h, r, _ := newTestHandler()

	h.HandleMessage("c9", types.Identity{AccountID: "svc"}, types.JoinSession{SessionID: "S1", Role: types.RoleTeacher})

	p, ok := r.Participant("S1", "c9")
	require.True(t, ok)
	assert.Equal(t, types.RoleTeacher, p.Role)
}
