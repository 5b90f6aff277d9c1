// Package wire implements the BitTorrent peer wire protocol: the fixed
// 68-byte handshake and the length-prefixed message frames that follow it.
package wire

import (
	"errors"
	"fmt"
	"io"
)

// ProtocolIdentifier is the fixed pstr sent in every handshake.
const ProtocolIdentifier = "BitTorrent protocol"

// HandshakeLen is the total size in bytes of a handshake frame.
const HandshakeLen = 49 + len(ProtocolIdentifier)

// ErrHandshakeMismatch is returned when a peer's handshake does not carry
// the expected protocol string or info_hash.
var ErrHandshakeMismatch = errors.New("wire: handshake mismatch")

// Handshake is the 68-byte frame exchanged before any other traffic.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake for the given info hash and local peer id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Marshal serializes the handshake into its wire representation.
func (h *Handshake) Marshal() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(ProtocolIdentifier))
	copy(buf[1:], ProtocolIdentifier)
	copy(buf[1+len(ProtocolIdentifier):], h.Reserved[:])
	copy(buf[1+len(ProtocolIdentifier)+8:], h.InfoHash[:])
	copy(buf[1+len(ProtocolIdentifier)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a handshake frame from r. It does not
// validate the peer's info_hash; callers compare against the expected
// torrent and return ErrHandshakeMismatch themselves so the caller controls
// error context.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	pstrlen := int(lenBuf[0])
	if pstrlen == 0 {
		return nil, fmt.Errorf("%w: zero-length pstr", ErrHandshakeMismatch)
	}

	rest := make([]byte, 48+pstrlen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	pstr := string(rest[:pstrlen])
	if pstr != ProtocolIdentifier {
		return nil, fmt.Errorf("%w: protocol identifier %q", ErrHandshakeMismatch, pstr)
	}

	h := &Handshake{}
	copy(h.Reserved[:], rest[pstrlen:pstrlen+8])
	copy(h.InfoHash[:], rest[pstrlen+8:pstrlen+8+20])
	copy(h.PeerID[:], rest[pstrlen+8+20:])
	return h, nil
}

// EnsureInfoHash returns ErrHandshakeMismatch if h was not handshook for
// the expected torrent.
func (h *Handshake) EnsureInfoHash(expected [20]byte) error {
	if h.InfoHash != expected {
		return fmt.Errorf("%w: info_hash %x, expected %x", ErrHandshakeMismatch, h.InfoHash, expected)
	}
	return nil
}
