package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

type mockConnection struct {
	id      string
	written []interface{}
}

func (m *mockConnection) WriteJSON(v interface{}) error { m.written = append(m.written, v); return nil }
func (m *mockConnection) Close() error                  { return nil }
func (m *mockConnection) ID() string                    { return m.id }
func (m *mockConnection) Identity() types.Identity      { return types.Identity{AccountID: "u1"} }

type mockDelivery struct{}

func (mockDelivery) SendTo(string, interface{}) error     { return nil }
func (mockDelivery) BroadcastAll(string, interface{}) int { return 0 }

type mockDB struct{}

func (mockDB) AppendObservation(context.Context, *types.Observation) (string, error) { return "o1", nil }
func (mockDB) QueryObservations(context.Context, types.ObservationFilter) ([]*types.Observation, error) {
	return nil, nil
}
func (mockDB) CreateSession(context.Context, *types.Session) error { return nil }
func (mockDB) GetSession(context.Context, string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (mockDB) GetSessionByCode(context.Context, string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (mockDB) UpdateSession(context.Context, *types.Session) error { return nil }
func (mockDB) ListSessionsByTeacher(context.Context, string) ([]*types.Session, error) {
	return nil, nil
}
func (mockDB) ListActiveSessions(context.Context) ([]*types.Session, error) { return nil, nil }
func (mockDB) HealthCheck(context.Context) error                           { return nil }
func (mockDB) Close() error                                                { return nil }

var (
	_ interfaces.Connection      = (*mockConnection)(nil)
	_ interfaces.Delivery        = mockDelivery{}
	_ interfaces.DatabaseManager = mockDB{}
)

func TestConnection_InterfaceContract(t *testing.T) {
	var conn interfaces.Connection = &mockConnection{id: "c1"}

	assert.NoError(t, conn.WriteJSON(types.NewOutbound(types.MessageTypeError, types.ErrorPayload{Message: "x"})))
	assert.Equal(t, "c1", conn.ID())
	assert.Equal(t, "u1", conn.Identity().AccountID)
	assert.NoError(t, conn.Close())
}

func TestDatabaseManager_NotFoundContract(t *testing.T) {
	var db interfaces.DatabaseManager = mockDB{}

	_, err := db.GetSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, interfaces.ErrSessionNotFound))

	id, err := db.AppendObservation(context.Background(), &types.Observation{SessionID: "S1", Score: 10})
	assert.NoError(t, err)
	assert.Equal(t, "o1", id)
}
