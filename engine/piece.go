package engine

import (
	"time"

	"leech/wire"
)

// State is a piece's position in the Missing -> InProgress -> Verified
// lifecycle (invariant 1 in spec.md §3: it only ever moves backwards via a
// hash-failure reset to Missing).
type State int

const (
	Missing State = iota
	InProgress
	Verified
)

// Block is one 16 KiB (or shorter, for the last block of a piece) request
// unit within a piece.
type Block struct {
	Begin         uint32
	Length        uint32
	Received      bool
	LastRequested time.Time // zero value means "never requested"
	Buf           []byte
}

// Piece is the full accounting record for one torrent piece index.
type Piece struct {
	Index         int
	ExpectedHash  [20]byte
	ExpectedSize  int64
	State         State
	Blocks        []*Block
	ReceivedCount int
	LastActivity  time.Time
}

func newPiece(index int, hash [20]byte, size int64) *Piece {
	return &Piece{
		Index:        index,
		ExpectedHash: hash,
		ExpectedSize: size,
	}
}

// allocateBlocks builds the block vector for a piece of the given size,
// rounding up by wire.BlockSize with a possibly-shorter last block.
func allocateBlocks(size int64) []*Block {
	count := int((size + wire.BlockSize - 1) / wire.BlockSize)
	blocks := make([]*Block, count)
	var begin int64
	for i := 0; i < count; i++ {
		length := int64(wire.BlockSize)
		if begin+length > size {
			length = size - begin
		}
		blocks[i] = &Block{Begin: uint32(begin), Length: uint32(length)}
		begin += length
	}
	return blocks
}

// allReceived reports whether every block in the piece has been received.
func (p *Piece) allReceived() bool {
	return p.ReceivedCount == len(p.Blocks)
}

// assemble concatenates block buffers in order. Callers must hold the
// engine lock and must have already confirmed allReceived().
func (p *Piece) assemble() []byte {
	buf := make([]byte, 0, p.ExpectedSize)
	for _, b := range p.Blocks {
		buf = append(buf, b.Buf...)
	}
	return buf
}

// resetBlocks clears every block's received state, used on hash-mismatch
// recovery (invariant 1's only backwards transition).
func (p *Piece) resetBlocks() {
	for _, b := range p.Blocks {
		b.Received = false
		b.LastRequested = time.Time{}
		b.Buf = nil
	}
	p.ReceivedCount = 0
}

// freeBuffers releases block buffers once a piece verifies, since the
// bytes now live in the FileMapper's output and don't need to stay resident.
func (p *Piece) freeBuffers() {
	for _, b := range p.Blocks {
		b.Buf = nil
	}
}
