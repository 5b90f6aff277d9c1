package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leech/engine"
	"leech/metainfo"
	"leech/metrics"
	"leech/storage"
	"leech/wire"
)

func pipeSession(t *testing.T, pieceCount int) (*Session, net.Conn) {
	t.Helper()
	client, remote := net.Pipe()

	dir := t.TempDir()
	tor := &metainfo.Torrent{
		Name:        "t",
		PieceLength: 8,
		TotalLength: 8,
		Files:       []*metainfo.File{{RelPath: "f.bin", Length: 8}},
		PieceHashes: make([][20]byte, 1),
	}
	mapper, err := storage.New(dir, tor.PieceLength, tor.Files)
	require.NoError(t, err)
	t.Cleanup(func() { mapper.Close() })

	eng := engine.New(tor, mapper)
	m := metrics.New()
	s := New(client, "test-addr", [20]byte{}, pieceCount, eng, m)
	return s, remote
}

func TestHandleFrameUnchokeAdoptsPieceAndRequests(t *testing.T) {
	s, remote := pipeSession(t, 1)
	defer remote.Close()

	s.peerPieces.SetPiece(0)

	done := make(chan error, 1)
	go func() {
		done <- s.handleFrame(&wire.Message{Type: wire.Unchoke})
	}()

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := wire.ReadFrame(remote)
	require.NoError(t, err)
	assert.Equal(t, wire.Request, msg.Type)

	require.NoError(t, <-done)
	assert.False(t, s.amChoked)
	assert.Equal(t, 0, s.currentPiece)
}

func TestHandleFrameChokeSetsAmChoked(t *testing.T) {
	s, remote := pipeSession(t, 1)
	defer remote.Close()

	require.NoError(t, s.handleFrame(&wire.Message{Type: wire.Choke}))
	assert.True(t, s.amChoked)
}

func TestHandleFrameBitfieldSetsPeerPieces(t *testing.T) {
	s, remote := pipeSession(t, 8)
	defer remote.Close()
	s.amChoked = true

	bf := wire.NewBitfield(8)
	bf.SetPiece(3)
	require.NoError(t, s.handleFrame(&wire.Message{Type: wire.BitfieldMsg, Payload: bf}))
	assert.True(t, s.peerPieces.HasPiece(3))
}
