package engine

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"leech/metainfo"
	"leech/storage"
	"leech/wire"
)

func buildTorrent(t *testing.T, pieceLength int64, pieces [][]byte, files []*metainfo.File) *metainfo.Torrent {
	t.Helper()
	tor := &metainfo.Torrent{PieceLength: pieceLength, Files: files}
	var total int64
	for _, data := range pieces {
		tor.PieceHashes = append(tor.PieceHashes, sha1.Sum(data))
	}
	for _, f := range files {
		total += f.Length
	}
	tor.TotalLength = total
	return tor
}

func TestOnBlockSingleBlockPieceVerifies(t *testing.T) {
	dir := t.TempDir()
	piece := make([]byte, 16384)
	for i := range piece {
		piece[i] = byte(i)
	}
	files := []*metainfo.File{{RelPath: "f.bin", Length: 16384}}
	tor := buildTorrent(t, 16384, [][]byte{piece}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	require.NoError(t, e.BeginPiece(0))

	reqs := e.BlocksToRequest(0)
	require.Len(t, reqs, 1)

	outcome := e.OnBlock(0, 0, piece)
	require.Equal(t, CompleteOK, outcome)
	require.True(t, e.IsComplete())
	require.Equal(t, 1, e.DownloadedCount())
}

func TestOnBlockDuplicateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	piece := make([]byte, 8)
	files := []*metainfo.File{{RelPath: "f.bin", Length: 8}}
	tor := buildTorrent(t, 16384, [][]byte{piece}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	require.NoError(t, e.BeginPiece(0))

	first := e.OnBlock(0, 0, piece)
	require.Equal(t, CompleteOK, first)

	second := e.OnBlock(0, 0, piece)
	require.Equal(t, Ignored, second, "piece already verified, further blocks are ignored")
}

func TestOnBlockHashMismatchResetsToMissing(t *testing.T) {
	dir := t.TempDir()
	good := []byte("0123456789ABCDEF")
	files := []*metainfo.File{{RelPath: "f.bin", Length: int64(len(good))}}
	tor := buildTorrent(t, int64(len(good)), [][]byte{good}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	require.NoError(t, e.BeginPiece(0))

	corrupted := append([]byte(nil), good...)
	corrupted[len(corrupted)-1] ^= 0xFF

	outcome := e.OnBlock(0, 0, corrupted)
	require.Equal(t, CompleteFailed, outcome)
	require.Equal(t, Missing, e.pieces[0].State)
	require.Equal(t, 0, e.DownloadedCount())

	// re-requesting and supplying the correct bytes now succeeds.
	require.NoError(t, e.BeginPiece(0))
	outcome = e.OnBlock(0, 0, good)
	require.Equal(t, CompleteOK, outcome)
	require.True(t, e.IsComplete())
}

func TestNextNeededPieceRespectsPeerFilter(t *testing.T) {
	dir := t.TempDir()
	files := []*metainfo.File{{RelPath: "f.bin", Length: 32768}}
	tor := buildTorrent(t, 16384, [][]byte{make([]byte, 16384), make([]byte, 16384)}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)

	bf := wire.NewBitfield(2)
	bf.SetPiece(1)

	for i := 0; i < 20; i++ {
		idx := e.NextNeededPiece(bf)
		require.Equal(t, 1, idx, "only piece 1 is advertised by the peer")
	}
}

func TestBeginPieceTooManyInProgress(t *testing.T) {
	dir := t.TempDir()
	var pieces [][]byte
	var files []*metainfo.File
	for i := 0; i < MaxInProgress+1; i++ {
		pieces = append(pieces, make([]byte, 16384))
	}
	files = append(files, &metainfo.File{RelPath: "f.bin", Length: int64(len(pieces)) * 16384})
	tor := buildTorrent(t, 16384, pieces, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	for i := 0; i < MaxInProgress; i++ {
		require.NoError(t, e.BeginPiece(i))
	}
	err = e.BeginPiece(MaxInProgress)
	require.ErrorIs(t, err, ErrTooManyInProgress)
}

func TestIsCompleteFalseUntilAllVerified(t *testing.T) {
	dir := t.TempDir()
	pieces := [][]byte{make([]byte, 16384), make([]byte, 16384)}
	files := []*metainfo.File{{RelPath: "f.bin", Length: 32768}}
	tor := buildTorrent(t, 16384, pieces, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	require.NoError(t, e.BeginPiece(0))
	require.Equal(t, CompleteOK, e.OnBlock(0, 0, pieces[0]))
	require.False(t, e.IsComplete())

	require.NoError(t, e.BeginPiece(1))
	require.Equal(t, CompleteOK, e.OnBlock(1, 0, pieces[1]))
	require.True(t, e.IsComplete())
}

func TestOnBlockReportsIOErrorWhenMapperWriteFails(t *testing.T) {
	dir := t.TempDir()
	piece := make([]byte, 16384)
	files := []*metainfo.File{{RelPath: "f.bin", Length: 16384}}
	tor := buildTorrent(t, 16384, [][]byte{piece}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	require.NoError(t, mapper.Close())

	e := New(tor, mapper)
	require.NoError(t, e.BeginPiece(0))

	outcome := e.OnBlock(0, 0, piece)
	require.Equal(t, CompleteIOError, outcome)
}

func TestSetOnVerifiedInvokedOnSuccessfulWrite(t *testing.T) {
	dir := t.TempDir()
	piece := make([]byte, 16384)
	files := []*metainfo.File{{RelPath: "f.bin", Length: 16384}}
	tor := buildTorrent(t, 16384, [][]byte{piece}, files)

	mapper, err := storage.New(dir, tor.PieceLength, files)
	require.NoError(t, err)
	defer mapper.Close()

	e := New(tor, mapper)
	var verifiedIndex = -1
	e.SetOnVerified(func(index int) { verifiedIndex = index })
	require.NoError(t, e.BeginPiece(0))

	require.Equal(t, CompleteOK, e.OnBlock(0, 0, piece))
	require.Equal(t, 0, verifiedIndex)
}
