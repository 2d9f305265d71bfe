package codec_test

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/domain"
	"relaychat/internal/protocol/codec"
)

// scriptedConn returns one scripted chunk per Read, then EOF.
type scriptedConn struct {
	chunks [][]byte
	out    bytes.Buffer
}

func (s *scriptedConn) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *scriptedConn) Write(p []byte) (int, error) { return s.out.Write(p) }

func bytewise(s string) [][]byte {
	out := make([][]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, []byte{s[i]})
	}
	return out
}

func TestSend_CompactWithSingleDelimiter(t *testing.T) {
	sc := &scriptedConn{}
	c := codec.New(sc)
	require.NoError(t, c.Send(map[string]any{"type": "auth", "n": 1}))
	assert.Equal(t, `{"n":1,"type":"auth"}`+"\n", sc.out.String())
}

func TestReceive_PartialArrivals(t *testing.T) {
	sc := &scriptedConn{chunks: bytewise(`{"a":1}` + "\n")}
	c := codec.New(sc)

	var got map[string]int
	require.NoError(t, c.Receive(&got))
	assert.Equal(t, map[string]int{"a": 1}, got)
}

func TestReceive_ConcatenatedLinesKeepResidual(t *testing.T) {
	sc := &scriptedConn{chunks: [][]byte{[]byte(`{"a":1}` + "\n" + `{"a":2}` + "\n" + `{"a":`), []byte(`3}` + "\n")}}
	c := codec.New(sc)

	for want := 1; want <= 3; want++ {
		var got map[string]int
		require.NoError(t, c.Receive(&got))
		assert.Equal(t, want, got["a"])
	}
	assert.Zero(t, c.Buffered())

	var v any
	require.ErrorIs(t, c.Receive(&v), codec.ErrConnectionClosed)
}

func TestReceive_ClosedWithIncompleteBuffer(t *testing.T) {
	sc := &scriptedConn{chunks: [][]byte{[]byte(`{"a":1`)}}
	c := codec.New(sc)

	var v any
	require.ErrorIs(t, c.Receive(&v), codec.ErrConnectionClosed)
	require.ErrorIs(t, c.Receive(&v), codec.ErrConnectionClosed)
}

func TestReceive_ClosedWithEmptyBuffer(t *testing.T) {
	c := codec.New(&scriptedConn{})
	var v any
	require.ErrorIs(t, c.Receive(&v), codec.ErrConnectionClosed)
}

func TestReceive_MalformedLineDoesNotPoisonStream(t *testing.T) {
	sc := &scriptedConn{chunks: [][]byte{[]byte("not json\n\n" + `{"ok":true}` + "\n")}}
	c := codec.New(sc)

	var v map[string]bool
	require.ErrorIs(t, c.Receive(&v), codec.ErrMalformed)
	require.NoError(t, c.Receive(&v))
	assert.True(t, v["ok"])
}

func TestEnvelope_OverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ca, cb := codec.New(a), codec.New(b)

	env, err := domain.NewEnvelope(domain.TypeAuth, "", "", domain.AuthPayload{Username: "alice", AvatarID: 3})
	require.NoError(t, err)

	go func() { _ = ca.Send(env) }()

	got, err := cb.ReceiveEnvelope()
	require.NoError(t, err)
	assert.Equal(t, domain.TypeAuth, got.Type)
	assert.Empty(t, got.Sender)

	var auth domain.AuthPayload
	require.NoError(t, got.DecodePayload(&auth))
	assert.Equal(t, domain.Username("alice"), auth.Username)
	assert.Equal(t, 3, auth.AvatarID)
}

func TestEnvelope_NullHeaders(t *testing.T) {
	sc := &scriptedConn{}
	c := codec.New(sc)
	env, err := domain.NewEnvelope(domain.TypeSystem, "", domain.Broadcast, domain.SystemPayload{Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, c.Send(env))

	line := sc.out.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, `"sender":null`)
	assert.Contains(t, line, `"to":"*"`)
	assert.Regexp(t, `"ts":"\d{4}-\d\d-\d\dT\d\d:\d\d:\d\dZ"`, line)
}
