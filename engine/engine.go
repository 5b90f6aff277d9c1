// Package engine owns the full piece/block state for one torrent download:
// selection, request accounting, assembly, and SHA-1 verification. All
// mutators are serialized under a single lock so many PeerSessions can
// call in concurrently.
package engine

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leech/metainfo"
	"leech/storage"
)

// MaxInProgress is the soft cap on pieces simultaneously InProgress before
// BeginPiece starts refusing new ones (after sweeping stale pieces first).
const MaxInProgress = 50

// StaleInProgress is how long a piece may sit InProgress with no block
// activity before the stale sweep drops it back to Missing.
const StaleInProgress = 2 * time.Minute

// RequestWindow is the number of outstanding block requests BlocksToRequest
// will hand out per call.
const RequestWindow = 16

// RequestTTL is how long a requested-but-not-received block waits before
// it becomes eligible for re-request.
const RequestTTL = 30 * time.Second

// ErrTooManyInProgress is returned by BeginPiece when the soft cap on
// concurrently in-progress pieces is exceeded even after sweeping stale
// pieces.
var ErrTooManyInProgress = errors.New("engine: too many pieces in progress")

// Outcome is the result of handing a received block to the engine.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Ignored
	CompleteOK
	CompleteFailed
	CompleteIOError
)

// PeerPieces reports which piece indices a peer advertises, satisfied by
// wire.Bitfield or a plain index set.
type PeerPieces interface {
	HasPiece(index int) bool
}

// Engine is the piece/block state machine for one torrent.
type Engine struct {
	mu sync.Mutex

	pieces          []*Piece
	downloadedCount int
	mapper          *storage.Mapper
	onVerified      func(index int)
}

// New builds an Engine with one Missing piece per hash in tor, writing
// verified bytes through mapper.
func New(tor *metainfo.Torrent, mapper *storage.Mapper) *Engine {
	e := &Engine{mapper: mapper}
	for i, hash := range tor.PieceHashes {
		e.pieces = append(e.pieces, newPiece(i, hash, tor.PieceSize(i)))
	}
	return e
}

// SetOnVerified registers a callback invoked, outside the engine lock, each
// time a piece verifies successfully and is written to disk. fn is optional
// bookkeeping (e.g. persisting progress) and never gates OnBlock's result.
func (e *Engine) SetOnVerified(fn func(index int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVerified = fn
}

// IsComplete reports whether every piece has verified.
func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloadedCount == len(e.pieces)
}

// DownloadedCount returns the number of pieces currently Verified.
func (e *Engine) DownloadedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloadedCount
}

// PieceCount returns the total number of pieces in the torrent.
func (e *Engine) PieceCount() int {
	return len(e.pieces)
}

// NextNeededPiece selects the next piece index to attempt, or -1 if every
// piece is Verified. Selection policy: prefer an unstarted (Missing) piece,
// restricted to peerPieces if given, chosen uniformly at random; fall back
// to the InProgress piece with the fewest received blocks.
func (e *Engine) NextNeededPiece(peerPieces PeerPieces) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var missing []int
	for _, p := range e.pieces {
		if p.State != Missing {
			continue
		}
		if peerPieces != nil && !peerPieces.HasPiece(p.Index) {
			continue
		}
		missing = append(missing, p.Index)
	}
	if len(missing) > 0 {
		return missing[rand.N(len(missing))]
	}

	best := -1
	bestReceived := -1
	for _, p := range e.pieces {
		if p.State != InProgress {
			continue
		}
		if peerPieces != nil && !peerPieces.HasPiece(p.Index) {
			continue
		}
		if best == -1 || p.ReceivedCount < bestReceived {
			best, bestReceived = p.Index, p.ReceivedCount
		}
	}
	return best
}

// BeginPiece transitions piece index from Missing to InProgress, allocating
// its block vector. It sweeps stale InProgress pieces back to Missing
// first; if the in-progress count is still at MaxInProgress afterward, it
// fails with ErrTooManyInProgress.
func (e *Engine) BeginPiece(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginPieceLocked(index)
}

func (e *Engine) beginPieceLocked(index int) error {
	e.sweepStaleLocked()

	inProgress := 0
	for _, p := range e.pieces {
		if p.State == InProgress {
			inProgress++
		}
	}
	if inProgress >= MaxInProgress {
		return fmt.Errorf("%w: %d pieces in progress", ErrTooManyInProgress, inProgress)
	}

	p := e.pieces[index]
	if p.State != Missing {
		return nil
	}
	p.Blocks = allocateBlocks(p.ExpectedSize)
	p.State = InProgress
	p.LastActivity = time.Now()
	return nil
}

// sweepStaleLocked drops any InProgress piece whose LastActivity is older
// than StaleInProgress back to Missing, freeing its blocks. Caller must
// hold e.mu.
func (e *Engine) sweepStaleLocked() {
	cutoff := time.Now().Add(-StaleInProgress)
	for _, p := range e.pieces {
		if p.State == InProgress && p.LastActivity.Before(cutoff) {
			p.State = Missing
			p.Blocks = nil
			p.ReceivedCount = 0
			log.Debug().Int("piece", p.Index).Msg("swept stale in-progress piece back to missing")
		}
	}
}

// ReleasePiece is a no-op state transition hook kept for symmetry with
// BeginPiece: a session that abandons a piece without error simply stops
// calling into the engine for it. Another session may then adopt the same
// index through NextNeededPiece's InProgress-fewest fallback; any resulting
// overlap is endgame-only and tolerated by OnBlock's Duplicate handling, not
// prevented here.
func (e *Engine) ReleasePiece(index int) {}

// BlockRequest is one block a session should ask a peer for.
type BlockRequest struct {
	Begin  uint32
	Length uint32
}

// BlocksToRequest returns up to RequestWindow blocks of piece index that
// are not yet received and whose last request (if any) is older than
// RequestTTL, stamping each with the current time.
func (e *Engine) BlocksToRequest(index int) []BlockRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pieces[index]
	if p.State != InProgress {
		return nil
	}

	cutoff := time.Now().Add(-RequestTTL)
	var out []BlockRequest
	for _, b := range p.Blocks {
		if len(out) >= RequestWindow {
			break
		}
		if b.Received {
			continue
		}
		if !b.LastRequested.IsZero() && b.LastRequested.After(cutoff) {
			continue
		}
		b.LastRequested = time.Now()
		out = append(out, BlockRequest{Begin: b.Begin, Length: b.Length})
	}
	return out
}

// OnBlock hands received block data to the engine. It copies data into the
// block's buffer, and on completion of the piece assembles, verifies, and
// (on success) writes it through the FileMapper.
func (e *Engine) OnBlock(index int, begin uint32, data []byte) Outcome {
	e.mu.Lock()

	if index < 0 || index >= len(e.pieces) {
		e.mu.Unlock()
		return Ignored
	}
	p := e.pieces[index]
	if p.State == Verified {
		e.mu.Unlock()
		return Ignored
	}
	if p.State != InProgress {
		e.mu.Unlock()
		return Ignored
	}

	var block *Block
	for _, b := range p.Blocks {
		if b.Begin == begin && int(b.Length) == len(data) {
			block = b
			break
		}
	}
	if block == nil {
		e.mu.Unlock()
		return Ignored
	}
	if block.Received {
		e.mu.Unlock()
		return Duplicate
	}

	block.Buf = append([]byte(nil), data...)
	block.Received = true
	p.ReceivedCount++
	p.LastActivity = time.Now()

	if !p.allReceived() {
		e.mu.Unlock()
		return Accepted
	}

	assembled := p.assemble()
	hash := sha1.Sum(assembled)
	ok := hash == p.ExpectedHash

	if ok {
		p.State = Verified
		e.downloadedCount++
		p.freeBuffers()
	} else {
		p.State = Missing
		p.resetBlocks()
	}
	e.mu.Unlock()

	if ok {
		if err := e.mapper.Write(index, 0, assembled); err != nil {
			log.Error().Err(err).Int("piece", index).Msg("writing verified piece to disk")
			return CompleteIOError
		}
		e.mu.Lock()
		onVerified := e.onVerified
		e.mu.Unlock()
		if onVerified != nil {
			onVerified(index)
		}
		return CompleteOK
	}
	log.Warn().Int("piece", index).Msg("piece hash mismatch, reset to missing")
	return CompleteFailed
}
