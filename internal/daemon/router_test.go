package daemon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harun/memstream/pkg/jsonrpc"
	"github.com/harun/memstream/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachSink(t *testing.T, d *Daemon) (*chanSink, *transport.Connection) {
	t.Helper()

	sink := newChanSink()
	conn, err := d.GetTransport().Attach(sink, transport.CarrierStream, "test")
	require.NoError(t, err)
	sink.next(t) // acknowledgement
	return sink, conn
}

func decodeResponse(t *testing.T, line string) *jsonrpc.Response {
	t.Helper()

	msg, rec := jsonrpc.Decode(line)
	require.Nil(t, rec)
	resp, ok := msg.(*jsonrpc.Response)
	require.True(t, ok, "expected a response, got %T", msg)
	return resp
}

func TestRouter_BuiltinsRegistered(t *testing.T) {
	daemon := createTestDaemon(t)

	assert.Equal(t, []string{
		MethodSetLogLevel,
		MethodPing,
		MethodMethods,
		MethodConnections,
		MethodServerInfo,
	}, daemon.GetRPC().Methods())
}

func TestRouter_HandleMessage(t *testing.T) {
	daemon := createTestDaemon(t)
	sink, conn := attachSink(t, daemon)

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, resp *jsonrpc.Response)
	}{
		{
			name:  "ping",
			input: `{"jsonrpc":"2.0","id":"a","method":"ping"}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				assert.Nil(t, resp.Error)
				assert.JSONEq(t, `{}`, string(resp.Result))
			},
		},
		{
			name:  "server info",
			input: `{"jsonrpc":"2.0","id":2,"method":"server.info"}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				require.Nil(t, resp.Error)
				var info ServerInfo
				require.NoError(t, json.Unmarshal(resp.Result, &info))
				assert.Equal(t, daemon.GetTransport().SessionID(), info.Session)
				assert.Equal(t, 1, info.Connections)
			},
		},
		{
			name:  "connections",
			input: `{"jsonrpc":"2.0","id":3,"method":"server.connections"}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				require.Nil(t, resp.Error)
				var infos []transport.ConnectionInfo
				require.NoError(t, json.Unmarshal(resp.Result, &infos))
				require.Len(t, infos, 1)
				assert.Equal(t, conn.ID, infos[0].ID)
			},
		},
		{
			name:  "unknown method",
			input: `{"jsonrpc":"2.0","id":4,"method":"nope"}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				require.NotNil(t, resp.Error)
				assert.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)
			},
		},
		{
			name:  "bad log level",
			input: `{"jsonrpc":"2.0","id":5,"method":"log.setLevel","params":{"level":"loud"}}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				require.NotNil(t, resp.Error)
				assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
			},
		},
		{
			name:  "log level",
			input: `{"jsonrpc":"2.0","id":6,"method":"log.setLevel","params":{"level":"warn"}}`,
			check: func(t *testing.T, resp *jsonrpc.Response) {
				require.Nil(t, resp.Error)
				assert.JSONEq(t, `{"level":"warn"}`, string(resp.Result))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon.GetTransport().ProcessInput(context.Background(), conn, []byte(tt.input+"\n"))
			tt.check(t, decodeResponse(t, sink.next(t)))
		})
	}
}

func TestRouter_NotificationGetsNoResponse(t *testing.T) {
	daemon := createTestDaemon(t)
	sink, conn := attachSink(t, daemon)

	tr := daemon.GetTransport()
	tr.ProcessInput(context.Background(), conn, []byte(`{"jsonrpc":"2.0","method":"ping"}`+"\n"))
	tr.ProcessInput(context.Background(), conn, []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`+"\n"))

	// The first line on the sink answers the request, not the notification.
	resp := decodeResponse(t, sink.next(t))
	id, ok := resp.ID.Int()
	require.True(t, ok)
	assert.EqualValues(t, 7, id)
}
