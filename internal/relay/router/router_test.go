package router_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
	"relaychat/internal/relay/registry"
	"relaychat/internal/relay/router"
)

// inbox records every envelope sent to one identity.
type inbox struct {
	mu   sync.Mutex
	envs []domain.Envelope
	fail bool
}

func (b *inbox) Send(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broken pipe")
	}
	b.envs = append(b.envs, v.(domain.Envelope))
	return nil
}

func (b *inbox) got() []domain.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Envelope(nil), b.envs...)
}

type peer struct {
	name domain.Username
	key  []byte
	box  *inbox
}

type fixture struct {
	reg     *registry.Registry
	router  *router.Router
	metrics *metrics.Metrics
	peers   map[domain.Username]*peer
}

func newFixture(t *testing.T, names ...domain.Username) *fixture {
	t.Helper()
	backend := log.Discard()
	f := &fixture{
		reg:     registry.New(backend.GetLogger("registry")),
		metrics: metrics.NewUnregistered(),
		peers:   make(map[domain.Username]*peer),
	}
	f.router = router.New(f.reg, backend.GetLogger("router"), f.metrics)
	for _, n := range names {
		f.add(t, n, true)
	}
	return f
}

func (f *fixture) add(t *testing.T, name domain.Username, withKey bool) *peer {
	t.Helper()
	p := &peer{name: name, box: &inbox{}}
	require.NoError(t, f.reg.Register(name, p.box, 0))
	if withKey {
		k, err := crypto.NewSessionKey()
		require.NoError(t, err)
		p.key = k
		require.NoError(t, f.reg.SetSessionKey(name, k))
	}
	f.peers[name] = p
	return p
}

func (f *fixture) envelope(t *testing.T, typ domain.MessageType, from, to domain.Username, body any) domain.Envelope {
	t.Helper()
	sealed, err := crypto.EncryptBody(f.peers[from].key, body)
	require.NoError(t, err)
	env, err := domain.NewEnvelope(typ, from, to, sealed)
	require.NoError(t, err)
	return env
}

func open(t *testing.T, p *peer, env domain.Envelope, out any) {
	t.Helper()
	body, err := crypto.DecryptBody(p.key, env.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

func TestRoute_PublicFansOutToEveryoneIncludingSender(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	in := f.envelope(t, domain.TypePublic, "alice", domain.Broadcast, domain.TextBody{Text: "hi all"})

	f.router.Route(in)

	ciphertexts := map[string]bool{}
	for _, name := range []domain.Username{"alice", "bob", "carol"} {
		p := f.peers[name]
		got := p.box.got()
		require.Len(t, got, 1, name)
		assert.Equal(t, domain.TypePublic, got[0].Type)
		assert.Equal(t, domain.Username("alice"), got[0].Sender)
		assert.Equal(t, domain.Broadcast, got[0].To)
		assert.Equal(t, in.TS, got[0].TS)

		var body domain.TextBody
		open(t, p, got[0], &body)
		assert.Equal(t, "hi all", body.Text)
		ciphertexts[string(got[0].Payload)] = true

		if name != "alice" {
			_, err := crypto.DecryptBody(f.peers["alice"].key, got[0].Payload)
			assert.ErrorIs(t, err, crypto.ErrDecrypt, "copy for %s must not open under sender key", name)
		}
	}
	assert.Len(t, ciphertexts, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Routed.WithLabelValues("pub")))
}

func TestRoute_BroadcastOfferSkipsSender(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	offer := domain.FileOfferBody{Name: "a.bin", Size: 3, Type: "application/octet-stream", FileID: "f-1"}
	f.router.Route(f.envelope(t, domain.TypeFileOffer, "alice", domain.Broadcast, offer))

	assert.Empty(t, f.peers["alice"].box.got())
	for _, name := range []domain.Username{"bob", "carol"} {
		got := f.peers[name].box.got()
		require.Len(t, got, 1)
		assert.Equal(t, name, got[0].To)
		var body domain.FileOfferBody
		open(t, f.peers[name], got[0], &body)
		assert.Equal(t, offer, body)
	}
}

func TestRoute_DirectTypesReachOnlyRecipient(t *testing.T) {
	bodies := map[domain.MessageType]any{
		domain.TypePrivate:   domain.TextBody{Text: "psst"},
		domain.TypeFileOffer: domain.FileOfferBody{Name: "x", FileID: "1"},
		domain.TypeFileAck:   domain.FileAckBody{ID: "1", Accept: true},
		domain.TypeFileChunk: domain.FileChunkBody{ID: "1", Seq: 0, Data: []byte("abc"), Final: true},
	}
	for typ, body := range bodies {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t, "alice", "bob", "carol")
			f.router.Route(f.envelope(t, typ, "alice", "bob", body))

			assert.Empty(t, f.peers["alice"].box.got())
			assert.Empty(t, f.peers["carol"].box.got())
			got := f.peers["bob"].box.got()
			require.Len(t, got, 1)
			assert.Equal(t, typ, got[0].Type)
			assert.Equal(t, domain.Username("bob"), got[0].To)

			raw, err := crypto.DecryptBody(f.peers["bob"].key, got[0].Payload)
			require.NoError(t, err)
			want, err := json.Marshal(body)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(raw))
		})
	}
}

func TestRoute_UnknownRecipientBouncesToSenderOnly(t *testing.T) {
	f := newFixture(t, "alice", "carol")
	f.router.Route(f.envelope(t, domain.TypePrivate, "alice", "bob", domain.TextBody{Text: "hello?"}))

	assert.Empty(t, f.peers["carol"].box.got())
	got := f.peers["alice"].box.got()
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeError, got[0].Type)
	assert.Empty(t, got[0].Sender)
	assert.Equal(t, domain.Username("alice"), got[0].To)

	var p domain.ErrorPayload
	require.NoError(t, got[0].DecodePayload(&p))
	assert.Equal(t, domain.CodeUserNotFound, p.Code)
	assert.Equal(t, domain.Username("bob"), p.User)
}

func TestRoute_RecipientWithoutSessionIsNotFound(t *testing.T) {
	f := newFixture(t, "alice")
	f.add(t, "bob", false)
	f.router.Route(f.envelope(t, domain.TypePrivate, "alice", "bob", domain.TextBody{Text: "x"}))

	assert.Empty(t, f.peers["bob"].box.got())
	require.Len(t, f.peers["alice"].box.got(), 1)
}

func TestRoute_TamperedBodyDroppedSilently(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	env := f.envelope(t, domain.TypePrivate, "alice", "bob", domain.TextBody{Text: "x"})

	var p domain.EncryptedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	tag, err := crypto.UnB64(p.Enc.T)
	require.NoError(t, err)
	tag[0] ^= 0xff
	p.Enc.T = crypto.B64(tag)
	env.Payload, err = json.Marshal(p)
	require.NoError(t, err)

	f.router.Route(env)

	assert.Empty(t, f.peers["alice"].box.got())
	assert.Empty(t, f.peers["bob"].box.got())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropDecrypt)))
}

func TestRoute_SenderWithoutSessionDroppedSilently(t *testing.T) {
	f := newFixture(t, "bob")
	alice := f.add(t, "alice", false)
	env, err := domain.NewEnvelope(domain.TypePublic, "alice", domain.Broadcast, map[string]string{"text": "early"})
	require.NoError(t, err)

	f.router.Route(env)

	assert.Empty(t, alice.box.got())
	assert.Empty(t, f.peers["bob"].box.got())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropNoSession)))
}

func TestRoute_FailedRecipientDoesNotStopFanOut(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	f.peers["bob"].box.fail = true

	f.router.Route(f.envelope(t, domain.TypePublic, "alice", domain.Broadcast, domain.TextBody{Text: "x"}))

	assert.Len(t, f.peers["alice"].box.got(), 1)
	assert.Len(t, f.peers["carol"].box.got(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(metrics.DropSend)))
}
