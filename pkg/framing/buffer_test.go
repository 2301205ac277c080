package framing

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(b *Buffer) []string {
	var lines []string
	for {
		line, ok := b.NextLine()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestBuffer_NextLine(t *testing.T) {
	t.Run("returns complete lines in order", func(t *testing.T) {
		b := New(0)
		require.NoError(t, b.Append([]byte("first\nsecond\n")))

		assert.Equal(t, []string{"first", "second"}, drain(b))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("empty lines are returned", func(t *testing.T) {
		b := New(0)
		require.NoError(t, b.Append([]byte("a\n\n\nb\n")))

		assert.Equal(t, []string{"a", "", "", "b"}, drain(b))
	})

	t.Run("no delimiter leaves buffer unchanged", func(t *testing.T) {
		b := New(0)
		require.NoError(t, b.Append([]byte(`{"jsonrpc":"2.0","method`)))
		before := b.Len()

		for i := 0; i < 3; i++ {
			line, ok := b.NextLine()
			assert.False(t, ok)
			assert.Empty(t, line)
			assert.Equal(t, before, b.Len())
		}
	})

	t.Run("line split across appends", func(t *testing.T) {
		b := New(0)
		require.NoError(t, b.Append([]byte(`{"jsonrpc":"2.0","method`)))
		_, ok := b.NextLine()
		assert.False(t, ok)

		require.NoError(t, b.Append([]byte(`":"test","id":1}`+"\n")))
		line, ok := b.NextLine()
		require.True(t, ok)
		assert.Equal(t, `{"jsonrpc":"2.0","method":"test","id":1}`, line)
	})

	t.Run("keeps trailing partial line", func(t *testing.T) {
		b := New(0)
		require.NoError(t, b.Append([]byte("done\npart")))

		assert.Equal(t, []string{"done"}, drain(b))
		assert.Equal(t, 4, b.Len())

		require.NoError(t, b.Append([]byte("ial\n")))
		assert.Equal(t, []string{"partial"}, drain(b))
	})

	t.Run("decodes multi-byte utf-8 split across chunks", func(t *testing.T) {
		b := New(0)
		word := []byte("héllo\n")
		require.NoError(t, b.Append(word[:2]))
		require.NoError(t, b.Append(word[2:]))

		assert.Equal(t, []string{"héllo"}, drain(b))
	})
}

func TestBuffer_Clear(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Append([]byte("complete\nincomplete")))

	b.Clear()

	_, ok := b.NextLine()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Append([]byte("fresh\n")))
	assert.Equal(t, []string{"fresh"}, drain(b))
}

func TestBuffer_ChunkingInvariance(t *testing.T) {
	input := []byte("{\"jsonrpc\":\"2.0\",\"method\":\"test1\",\"id\":1}\n" +
		"This is not JSON\n\n" +
		"{\"jsonrpc\":\"2.0\",\"method\":\"test2\",\"id\":2}\n" +
		"trailing")

	whole := New(0)
	require.NoError(t, whole.Append(input))
	expected := drain(whole)
	require.Len(t, expected, 4)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		b := New(0)
		var got []string
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			require.NoError(t, b.Append(rest[:n]))
			rest = rest[n:]
			got = append(got, drain(b)...)
		}
		assert.Equal(t, expected, got, "trial %d", trial)
		assert.Equal(t, len("trailing"), b.Len())
	}
}

func TestBuffer_LineLimit(t *testing.T) {
	t.Run("overflow drops the partial line and resyncs at next delimiter", func(t *testing.T) {
		b := New(8)
		require.NoError(t, b.Append([]byte("ok\n1234")))

		err := b.Append([]byte("56789"))
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Equal(t, []string{"ok"}, drain(b))

		// Still inside the oversized line.
		require.NoError(t, b.Append([]byte("more junk")))
		_, ok := b.NextLine()
		assert.False(t, ok)

		require.NoError(t, b.Append([]byte("end\nnext\n")))
		assert.Equal(t, []string{"next"}, drain(b))
	})

	t.Run("lines within the limit are unaffected", func(t *testing.T) {
		b := New(8)
		require.NoError(t, b.Append([]byte("12345678\n")))
		assert.Equal(t, []string{"12345678"}, drain(b))
	})

	t.Run("line completed by a later chunk is held to the limit", func(t *testing.T) {
		b := New(8)
		require.NoError(t, b.Append([]byte("1234567")))

		err := b.Append([]byte("89ABCDEF\nok\n"))
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Equal(t, []string{"ok"}, drain(b))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("oversized line inside a single chunk is dropped", func(t *testing.T) {
		b := New(8)
		err := b.Append([]byte(strings.Repeat("x", 1000) + "\n"))
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Empty(t, drain(b))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("neighbours of an oversized line survive", func(t *testing.T) {
		b := New(8)
		err := b.Append([]byte("fine\n" + strings.Repeat("y", 20) + "\nafter\npart"))
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Equal(t, []string{"fine", "after"}, drain(b))

		require.NoError(t, b.Append([]byte("ial\n")))
		assert.Equal(t, []string{"partial"}, drain(b))
	})

	t.Run("clear leaves discard mode", func(t *testing.T) {
		b := New(4)
		assert.ErrorIs(t, b.Append([]byte("toolong")), ErrLineTooLong)

		b.Clear()
		require.NoError(t, b.Append([]byte("ab\n")))
		assert.Equal(t, []string{"ab"}, drain(b))
	})
}
