package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testFrame struct {
	ID string `json:"id"`
}

func TestBridge_PublishDeliversLocallyAndFansOut(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	local := NewBus(zap.NewNop())
	bridge := NewBridge(local, rdb, zap.NewNop())

	var received []any
	local.Subscribe("school:a", func(payload any) {
		received = append(received, payload)
	})

	frame := testFrame{ID: "frame-1"}
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	envelope, err := json.Marshal(bridgeEnvelope{Instance: bridge.instance, Key: "school:a", Payload: payload})
	require.NoError(t, err)
	mock.ExpectPublish(bridgeChannel, envelope).SetVal(1)

	bridge.Publish("school:a", frame)

	require.Len(t, received, 1)
	assert.Equal(t, frame, received[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBridge_RedisFailureStillDeliversLocally(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	local := NewBus(zap.NewNop())
	bridge := NewBridge(local, rdb, zap.NewNop())

	delivered := 0
	local.Subscribe("school:a", func(payload any) { delivered++ })

	frame := testFrame{ID: "frame-1"}
	payload, _ := json.Marshal(frame)
	envelope, _ := json.Marshal(bridgeEnvelope{Instance: bridge.instance, Key: "school:a", Payload: payload})
	mock.ExpectPublish(bridgeChannel, envelope).SetErr(errors.New("redis down"))

	bridge.Publish("school:a", frame)

	assert.Equal(t, 1, delivered)
}

func TestBridge_RemoteMessageRepublishesLocally(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	local := NewBus(zap.NewNop())
	bridge := NewBridge(local, rdb, zap.NewNop())

	var received []any
	local.Subscribe("school:a", func(payload any) {
		received = append(received, payload)
	})

	envelope, err := json.Marshal(bridgeEnvelope{
		Instance: "another-instance",
		Key:      "school:a",
		Payload:  json.RawMessage(`{"id":"remote-1"}`),
	})
	require.NoError(t, err)
	bridge.handleMessage(envelope)

	require.Len(t, received, 1)
	raw, ok := received[0].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"remote-1"}`, string(raw))
}

func TestBridge_OwnMessagesAreNotRedelivered(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	local := NewBus(zap.NewNop())
	bridge := NewBridge(local, rdb, zap.NewNop())

	delivered := 0
	local.Subscribe("school:a", func(payload any) { delivered++ })

	envelope, err := json.Marshal(bridgeEnvelope{
		Instance: bridge.instance,
		Key:      "school:a",
		Payload:  json.RawMessage(`{"id":"echo"}`),
	})
	require.NoError(t, err)
	bridge.handleMessage(envelope)

	assert.Equal(t, 0, delivered)
}

func TestBridge_MalformedMessageIsIgnored(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	local := NewBus(zap.NewNop())
	bridge := NewBridge(local, rdb, zap.NewNop())

	assert.NotPanics(t, func() {
		bridge.handleMessage([]byte("not json"))
	})
}
