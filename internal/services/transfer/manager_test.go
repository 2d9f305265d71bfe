package transfer_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/services/transfer"
)

type sent struct {
	to    domain.Username
	offer *domain.FileOfferBody
	chunk *domain.FileChunkBody
	ack   *domain.FileAckBody
}

type fakeOutbound struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeOutbound) record(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeOutbound) SendFileOffer(to domain.Username, o domain.FileOfferBody) error {
	return f.record(sent{to: to, offer: &o})
}

func (f *fakeOutbound) SendFileChunk(to domain.Username, c domain.FileChunkBody) error {
	return f.record(sent{to: to, chunk: &c})
}

func (f *fakeOutbound) SendFileAck(to domain.Username, a domain.FileAckBody) error {
	return f.record(sent{to: to, ack: &a})
}

func (f *fakeOutbound) chunksTo(to domain.Username) []domain.FileChunkBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FileChunkBody
	for _, s := range f.sent {
		if s.chunk != nil && s.to == to {
			out = append(out, *s.chunk)
		}
	}
	return out
}

func (f *fakeOutbound) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStore) SaveDownload(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = data
	return "/downloads/" + name, nil
}

func newManager(t *testing.T, chunkSize int) (*transfer.Manager, *fakeOutbound, *memStore) {
	t.Helper()
	out := &fakeOutbound{}
	store := &memStore{}
	m := transfer.New(out, store, log.Discard().GetLogger("transfer"), chunkSize)
	t.Cleanup(m.Halt)
	return m, out, store
}

func TestUpload_StreamsAfterAccept(t *testing.T) {
	m, out, _ := newManager(t, 4)

	id, err := m.OfferBytes("bob", "notes.txt", []byte("0123456789"))
	require.NoError(t, err)

	offer := out.last()
	require.NotNil(t, offer.offer)
	assert.Equal(t, domain.Username("bob"), offer.to)
	assert.Equal(t, id, offer.offer.FileID)
	assert.Equal(t, int64(10), offer.offer.Size)
	assert.Equal(t, "notes.txt", offer.offer.Name)
	assert.Empty(t, out.chunksTo("bob"))

	require.NoError(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true}))
	m.Wait()

	chunks := out.chunksTo("bob")
	require.Len(t, chunks, 4)
	var got bytes.Buffer
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, i == 3, c.Final)
		got.Write(c.Data)
	}
	assert.Empty(t, chunks[3].Data)
	assert.Equal(t, "0123456789", got.String())
}

func TestUpload_RejectSendsNothing(t *testing.T) {
	m, out, _ := newManager(t, 4)

	id, err := m.OfferBytes("bob", "a", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: false}))
	m.Wait()
	assert.Empty(t, out.chunksTo("bob"))

	err = m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true})
	assert.ErrorIs(t, err, transfer.ErrUnknownTransfer)
	assert.Empty(t, out.chunksTo("bob"))
}

func TestUpload_AckFromWrongPeer(t *testing.T) {
	m, _, _ := newManager(t, 4)
	id, err := m.OfferBytes("bob", "a", []byte("data"))
	require.NoError(t, err)
	assert.ErrorIs(t, m.HandleAck("carol", domain.FileAckBody{ID: id, Accept: true}), transfer.ErrUnexpectedPeer)
}

func TestUpload_BroadcastPerPeer(t *testing.T) {
	m, out, _ := newManager(t, 8)

	id, err := m.OfferBytes(domain.Broadcast, "a", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: false}))
	require.NoError(t, m.HandleAck("carol", domain.FileAckBody{ID: id, Accept: true}))
	m.Wait()

	assert.Empty(t, out.chunksTo("bob"))
	assert.Len(t, out.chunksTo("carol"), 2)
	assert.ErrorIs(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true}), transfer.ErrRejected)
	assert.ErrorIs(t, m.HandleAck("carol", domain.FileAckBody{ID: id, Accept: true}), transfer.ErrAlreadyAcked)
}

func TestUpload_ZeroLengthFileSendsOnlyFinal(t *testing.T) {
	m, out, _ := newManager(t, 4)
	id, err := m.OfferBytes("bob", "empty", nil)
	require.NoError(t, err)
	require.NoError(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true}))
	m.Wait()

	chunks := out.chunksTo("bob")
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Final)
	assert.Equal(t, 0, chunks[0].Seq)
}

func TestUpload_BroadcastOfferExpires(t *testing.T) {
	m, out, _ := newManager(t, 8)
	transfer.SetBroadcastTTL(m, 50*time.Millisecond)

	id, err := m.OfferBytes(domain.Broadcast, "a", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, m.HandleAck("carol", domain.FileAckBody{ID: id, Accept: true}))

	n := 0
	require.Eventually(t, func() bool {
		n++
		peer := domain.Username(fmt.Sprintf("peer%d", n))
		return errors.Is(m.HandleAck(peer, domain.FileAckBody{ID: id, Accept: false}), transfer.ErrUnknownTransfer)
	}, 5*time.Second, 10*time.Millisecond)

	// A stream started before expiry still finishes.
	m.Wait()
	assert.Len(t, out.chunksTo("carol"), 2)
}

func TestUpload_AckAfterHaltRefused(t *testing.T) {
	m, out, _ := newManager(t, 4)
	id, err := m.OfferBytes("bob", "a", []byte("data"))
	require.NoError(t, err)

	m.Halt()
	assert.ErrorIs(t, m.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true}), transfer.ErrHalted)
	assert.Empty(t, out.chunksTo("bob"))
}

func TestOfferFile_FromDisk(t *testing.T) {
	m, out, _ := newManager(t, 1024)
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	id, err := m.OfferFile("bob", path)
	require.NoError(t, err)
	o := out.last().offer
	require.NotNil(t, o)
	assert.Equal(t, id, o.FileID)
	assert.Equal(t, "photo.png", o.Name)
	assert.Equal(t, "image/png", o.Type)

	_, err = m.OfferFile("bob", t.TempDir())
	assert.Error(t, err)
}

func TestDownload_AcceptThenReceive(t *testing.T) {
	m, out, store := newManager(t, 4)

	m.HandleOffer("alice", domain.FileOfferBody{Name: "report.pdf", Size: 6, FileID: "f1"})
	require.Len(t, m.PendingOffers(), 1)

	require.NoError(t, m.Accept("f1"))
	ack := out.last()
	assert.Equal(t, domain.Username("alice"), ack.to)
	assert.Equal(t, domain.FileAckBody{ID: "f1", Accept: true}, *ack.ack)
	assert.Empty(t, m.PendingOffers())

	for _, c := range []domain.FileChunkBody{
		{ID: "f1", Seq: 1, Data: []byte("def")},
		{ID: "f1", Seq: 0, Data: []byte("abc")},
	} {
		_, done, err := m.HandleChunk("alice", c)
		require.NoError(t, err)
		assert.False(t, done)
	}
	path, done, err := m.HandleChunk("alice", domain.FileChunkBody{ID: "f1", Seq: 2, Data: []byte{}, Final: true})
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "/downloads/report.pdf", path)
	assert.Equal(t, []byte("abcdef"), store.files["report.pdf"])
}

func TestDownload_RejectSendsAck(t *testing.T) {
	m, out, _ := newManager(t, 4)
	m.HandleOffer("alice", domain.FileOfferBody{Name: "x", FileID: "f1"})
	require.NoError(t, m.Reject("f1"))
	assert.Equal(t, domain.FileAckBody{ID: "f1", Accept: false}, *out.last().ack)
	assert.ErrorIs(t, m.Accept("f1"), transfer.ErrUnknownTransfer)
}

func TestDownload_ChunkWithoutOfferStartsTransfer(t *testing.T) {
	m, _, store := newManager(t, 4)
	_, done, err := m.HandleChunk("alice", domain.FileChunkBody{ID: "orphan", Seq: 0, Data: []byte("hi"), Final: true})
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("hi"), store.files["file.bin"])
}

func TestDownload_ChunkBeforeAcceptRefused(t *testing.T) {
	m, _, store := newManager(t, 4)
	m.HandleOffer("mallory", domain.FileOfferBody{Name: "evil.sh", Size: 2, FileID: "f1"})

	_, done, err := m.HandleChunk("mallory", domain.FileChunkBody{ID: "f1", Seq: 0, Data: []byte("hi"), Final: true})
	assert.ErrorIs(t, err, transfer.ErrNotAccepted)
	assert.False(t, done)
	assert.Empty(t, store.files)

	// The offer is still pending and can be decided.
	require.Len(t, m.PendingOffers(), 1)
	require.NoError(t, m.Accept("f1"))
	path, done, err := m.HandleChunk("mallory", domain.FileChunkBody{ID: "f1", Seq: 0, Data: []byte("hi"), Final: true})
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "/downloads/evil.sh", path)
}

func TestDownload_ChunkAfterRejectRefused(t *testing.T) {
	m, _, store := newManager(t, 4)
	m.HandleOffer("mallory", domain.FileOfferBody{Name: "x", Size: 2, FileID: "f2"})
	require.NoError(t, m.Reject("f2"))

	_, done, err := m.HandleChunk("mallory", domain.FileChunkBody{ID: "f2", Seq: 0, Data: []byte("hi"), Final: true})
	assert.ErrorIs(t, err, transfer.ErrRejected)
	assert.False(t, done)
	assert.Empty(t, store.files)
}

func TestDownload_SizeMismatchNotSaved(t *testing.T) {
	m, _, store := newManager(t, 4)
	m.HandleOffer("alice", domain.FileOfferBody{Name: "r.txt", Size: 10, FileID: "f3"})
	require.NoError(t, m.Accept("f3"))

	_, done, err := m.HandleChunk("alice", domain.FileChunkBody{ID: "f3", Seq: 0, Data: []byte("short"), Final: true})
	assert.ErrorIs(t, err, transfer.ErrSizeMismatch)
	assert.False(t, done)
	assert.Empty(t, store.files)
}

func TestEndToEnd_UploadIntoDownload(t *testing.T) {
	sender, out, _ := newManager(t, 3)
	receiver, _, store := newManager(t, 3)

	payload := []byte("the quick brown fox")
	id, err := sender.OfferBytes("bob", "fox.txt", payload)
	require.NoError(t, err)
	receiver.HandleOffer("alice", *out.last().offer)
	require.NoError(t, receiver.Accept(id))
	require.NoError(t, sender.HandleAck("bob", domain.FileAckBody{ID: id, Accept: true}))
	sender.Wait()

	chunks := out.chunksTo("bob")
	// Deliver in reverse to exercise reordering.
	var done bool
	for i := len(chunks) - 1; i >= 0; i-- {
		_, done, err = receiver.HandleChunk("alice", chunks[i])
		require.NoError(t, err)
	}
	require.True(t, done)
	assert.Equal(t, payload, store.files["fox.txt"])
}
