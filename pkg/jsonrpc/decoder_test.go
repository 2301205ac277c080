package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/harun/memstream/pkg/faults"
	"github.com/harun/memstream/pkg/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Request(t *testing.T) {
	msg, rec := Decode(`{"jsonrpc":"2.0","method":"test","id":1}`)
	require.Nil(t, rec)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, RoleRequest, req.Role())
	assert.Equal(t, "test", req.Method)

	id, ok := req.ID.Int()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestDecode_Variants(t *testing.T) {
	t.Run("notification has no id", func(t *testing.T) {
		msg, rec := Decode(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{"a":1}}`)
		require.Nil(t, rec)

		n, ok := msg.(*Notification)
		require.True(t, ok)
		assert.Equal(t, "notifications/initialized", n.Method)
		assert.JSONEq(t, `{"a":1}`, string(n.Params))
	})

	t.Run("string id is preserved", func(t *testing.T) {
		msg, rec := Decode(`{"jsonrpc":"2.0","method":"ping","id":"abc-1","params":[1,2]}`)
		require.Nil(t, rec)

		req := msg.(*Request)
		s, ok := req.ID.Str()
		assert.True(t, ok)
		assert.Equal(t, "abc-1", s)
		_, ok = req.ID.Int()
		assert.False(t, ok)
	})

	t.Run("result response", func(t *testing.T) {
		msg, rec := Decode(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`)
		require.Nil(t, rec)

		resp, ok := msg.(*Response)
		require.True(t, ok)
		require.NotNil(t, resp.ID)
		assert.Equal(t, "7", resp.ID.String())
		assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
		assert.Nil(t, resp.Error)
	})

	t.Run("error response with null id", func(t *testing.T) {
		msg, rec := Decode(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"Invalid Request"}}`)
		require.Nil(t, rec)

		resp := msg.(*Response)
		assert.Nil(t, resp.ID)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	})
}

func TestDecode_ParseErrors(t *testing.T) {
	lines := []string{
		"not json",
		"",
		"   ",
		"2024-01-01T00:00:00Z INFO server started",
		`{"jsonrpc":"2.0","method":`,
	}

	for _, line := range lines {
		msg, rec := Decode(line)
		assert.Nil(t, msg, "line %q", line)
		require.NotNil(t, rec, "line %q", line)
		assert.Equal(t, faults.ParseError, rec.Kind, "line %q", line)
		assert.Equal(t, faults.OpProcessInput, rec.Context)
	}

	t.Run("offending text is truncated", func(t *testing.T) {
		long := strings.Repeat("y", 400)
		_, rec := Decode(long)
		require.NotNil(t, rec)
		assert.LessOrEqual(t, len(rec.Detail), 103)
	})
}

func TestDecode_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"array", `[1,2,3]`},
		{"string", `"hello"`},
		{"null", `null`},
		{"missing jsonrpc", `{"method":"test","id":1}`},
		{"wrong version", `{"jsonrpc":"1.0","method":"test","id":1}`},
		{"no method result or error", `{"jsonrpc":"2.0","id":1}`},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`},
		{"method and result", `{"jsonrpc":"2.0","id":1,"method":"m","result":1}`},
		{"response without id", `{"jsonrpc":"2.0","result":1}`},
		{"object id", `{"jsonrpc":"2.0","method":"m","id":{}}`},
		{"scalar params", `{"jsonrpc":"2.0","method":"m","params":5}`},
		{"empty method", `{"jsonrpc":"2.0","method":"","id":1}`},
		{"malformed error object", `{"jsonrpc":"2.0","id":1,"error":{"code":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, rec := Decode(tt.line)
			assert.Nil(t, msg)
			require.NotNil(t, rec)
			assert.Equal(t, faults.ValidationError, rec.Kind)
		})
	}
}

func TestDecode_StreamNotPoisoned(t *testing.T) {
	buf := framing.New(0)
	require.NoError(t, buf.Append([]byte("not json\n")))

	line, ok := buf.NextLine()
	require.True(t, ok)
	msg, rec := Decode(line)
	assert.Nil(t, msg)
	require.NotNil(t, rec)
	assert.Equal(t, faults.ParseError, rec.Kind)

	require.NoError(t, buf.Append([]byte(`{"jsonrpc":"2.0","method":"test","id":1}`+"\n")))
	line, ok = buf.NextLine()
	require.True(t, ok)
	msg, rec = Decode(line)
	require.Nil(t, rec)
	assert.Equal(t, "test", msg.(*Request).Method)
}

func TestDecode_InterleavedStream(t *testing.T) {
	buf := framing.New(0)
	require.NoError(t, buf.Append([]byte(
		"{\"jsonrpc\":\"2.0\",\"method\":\"test1\",\"id\":1}\n" +
			"This is not JSON\n" +
			"{\"jsonrpc\":\"2.0\",\"method\":\"test2\",\"id\":2}\n")))

	var results []string
	for {
		line, ok := buf.NextLine()
		if !ok {
			break
		}
		msg, rec := Decode(line)
		if rec != nil {
			results = append(results, "")
			continue
		}
		results = append(results, msg.(*Request).Method)
	}

	assert.Equal(t, []string{"test1", "", "test2"}, results)
}

func TestEncode(t *testing.T) {
	t.Run("request round trip", func(t *testing.T) {
		req, err := NewRequest(IntID(42), "memory.search", map[string]string{"query": "go"})
		require.NoError(t, err)

		data, err := Encode(req)
		require.NoError(t, err)
		assert.Equal(t, byte('\n'), data[len(data)-1])

		msg, rec := Decode(string(data[:len(data)-1]))
		require.Nil(t, rec)
		got := msg.(*Request)
		assert.Equal(t, "memory.search", got.Method)
		assert.Equal(t, "42", got.ID.String())
	})

	t.Run("error response encodes null id", func(t *testing.T) {
		data, err := Encode(NewErrorResponse(nil, CodeMethodNotFound, "Method not found"))
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Contains(t, decoded, "id")
		assert.Nil(t, decoded["id"])
		assert.Equal(t, "2.0", decoded["jsonrpc"])
	})

	t.Run("notification omits id", func(t *testing.T) {
		n, err := NewNotification("notifications/message", nil)
		require.NoError(t, err)

		data, err := Encode(n)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/message"}`, string(data))
	})
}
