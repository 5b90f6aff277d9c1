// Package session implements the per-connection state machine that
// drives one peer: handshake, choke/interest bookkeeping, request
// pipelining, and handing received blocks off to the piece engine.
package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"leech/engine"
	"leech/metrics"
	"leech/wire"
)

// ErrPieceIOError ends a session when the engine fails to write a verified
// piece to disk (spec.md §7 treats IoError as fatal to the owning session).
var ErrPieceIOError = errors.New("session: piece write failed")

// InactivityTimeout ends a session that has gone this long without
// receiving a single frame from the peer.
const InactivityTimeout = 90 * time.Second

// ReadTimeout bounds each individual read inside the main loop so the
// idle/keepalive/reissue checks can run even when the peer is silent.
const ReadTimeout = 10 * time.Second

// MaxConsecutiveErrors ends the session after this many I/O errors in a
// row with no successful frame in between.
const MaxConsecutiveErrors = 5

// KeepAliveInterval is how long since the last frame before we send one
// ourselves to hold the connection open.
const KeepAliveInterval = 30 * time.Second

// ReinterestInterval is how long to wait, while still choked, before
// resending Interested (some peers silently drop the first one).
const ReinterestInterval = 15 * time.Second

// StallReissueInterval is how long current_piece may sit with no block
// progress before a read timeout asks the engine again for its blocks.
// The engine only hands back blocks whose last request is older than
// engine.RequestTTL, so no request is re-sent before that.
const StallReissueInterval = 10 * time.Second

// MaxForceReissuesPerBurst caps how many stall reissue attempts are made
// for current_piece until a block of it is accepted again. Once the cap is
// reached the session keeps the piece and simply stops reissuing.
const MaxForceReissuesPerBurst = 5

// Session owns one outbound TCP connection to a peer and its piece
// request bookkeeping. It never holds a pointer back to the Swarm or a
// map entry; it reports back only by returning from Run.
type Session struct {
	conn net.Conn
	addr string

	eng *engine.Engine
	m   *metrics.Metrics

	peerID [20]byte

	amChoked     bool
	amInterested bool
	peerPieces   wire.Bitfield

	currentPiece      int
	currentPieceStart time.Time
	forceReissues     int

	lastFrame time.Time

	consecutiveErrors int
}

// New constructs a session around an already-dialed, already-handshaken
// connection. Callers build the connection and perform the handshake via
// wire.Dial/wire.Perform so the Swarm can apply its own candidate-vetting
// before committing a goroutine to this session.
func New(conn net.Conn, addr string, peerID [20]byte, pieceCount int, eng *engine.Engine, m *metrics.Metrics) *Session {
	return &Session{
		conn:         conn,
		addr:         addr,
		eng:          eng,
		m:            m,
		peerID:       peerID,
		amChoked:     true,
		amInterested: false,
		peerPieces:   wire.NewBitfield(pieceCount),
		currentPiece: -1,
		lastFrame:    time.Now(),
	}
}

// Connect dials addr, performs the wire handshake, and returns a ready
// Session. The caller owns the returned Session and must call Run.
func Connect(addr, localAddr string, infoHash, peerID [20]byte, pieceCount int, eng *engine.Engine, m *metrics.Metrics) (*Session, error) {
	conn, err := wire.Dial(addr, localAddr)
	if err != nil {
		m.RecordConnectionAttempt(false)
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	if _, _, err := wire.Perform(conn, infoHash, peerID); err != nil {
		conn.Close()
		m.RecordConnectionAttempt(false)
		return nil, fmt.Errorf("handshaking %s: %w", addr, err)
	}
	m.RecordConnectionAttempt(true)

	return New(conn, addr, peerID, pieceCount, eng, m), nil
}

// Run drives the session's main loop until the download completes, the
// connection goes inactive, or too many consecutive errors occur. The
// connection is always closed before Run returns.
func (s *Session) Run() error {
	defer s.conn.Close()

	if err := s.sendInterested(); err != nil {
		return fmt.Errorf("session %s: sending initial interested: %w", s.addr, err)
	}

	for {
		if s.eng.IsComplete() {
			return nil
		}
		if time.Since(s.lastFrame) > InactivityTimeout {
			return fmt.Errorf("session %s: inactivity timeout", s.addr)
		}
		if s.consecutiveErrors >= MaxConsecutiveErrors {
			return fmt.Errorf("session %s: too many consecutive errors", s.addr)
		}

		s.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		msg, err := wire.ReadFrame(s.conn)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if handleErr := s.onReadTimeout(); handleErr != nil {
					return handleErr
				}
				continue
			}
			s.consecutiveErrors++
			continue
		}

		s.consecutiveErrors = 0
		s.lastFrame = time.Now()
		if err := s.handleFrame(msg); err != nil {
			return fmt.Errorf("session %s: %w", s.addr, err)
		}
	}
}

func (s *Session) onReadTimeout() error {
	idle := time.Since(s.lastFrame)
	if idle >= KeepAliveInterval {
		if err := s.write(wire.KeepAlive()); err != nil {
			s.consecutiveErrors++
			return nil
		}
	}
	if s.amChoked && idle >= ReinterestInterval {
		if err := s.sendInterested(); err != nil {
			s.consecutiveErrors++
		}
	}
	if !s.amChoked && s.currentPiece >= 0 &&
		time.Since(s.currentPieceStart) >= StallReissueInterval &&
		s.forceReissues < MaxForceReissuesPerBurst {
		s.forceReissues++
		if err := s.requestBlocks(); err != nil {
			s.consecutiveErrors++
		}
	}
	return nil
}

func (s *Session) handleFrame(msg *wire.Message) error {
	if msg.IsKeepAlive {
		return nil
	}
	switch msg.Type {
	case wire.Choke:
		s.amChoked = true
	case wire.Unchoke:
		s.amChoked = false
		if s.currentPiece < 0 {
			s.adoptNextPiece()
		}
		if s.currentPiece >= 0 {
			return s.requestBlocks()
		}
	case wire.Have:
		index, err := wire.ParseHave(msg.Payload)
		if err != nil {
			return err
		}
		s.peerPieces.SetPiece(int(index))
		if !s.amChoked && s.currentPiece < 0 && s.eng.NextNeededPiece(s.peerPieces) == int(index) {
			s.adoptNextPiece()
			if s.currentPiece >= 0 {
				return s.requestBlocks()
			}
		}
	case wire.BitfieldMsg:
		s.peerPieces = wire.Bitfield(append([]byte(nil), msg.Payload...))
		if !s.amChoked && s.currentPiece < 0 {
			s.adoptNextPiece()
			if s.currentPiece >= 0 {
				return s.requestBlocks()
			}
		}
	case wire.Piece:
		index, begin, data, err := wire.ParsePiece(msg.Payload)
		if err != nil {
			return err
		}
		s.m.RecordBlock(int64(len(data)))
		outcome := s.eng.OnBlock(int(index), begin, data)
		switch outcome {
		case engine.CompleteOK:
			s.m.RecordPieceVerified()
			if int(index) == s.currentPiece {
				s.clearCurrentPiece()
				s.adoptNextPiece()
				if s.currentPiece >= 0 {
					return s.requestBlocks()
				}
			}
		case engine.CompleteFailed:
			s.m.RecordPieceFailed()
			if int(index) == s.currentPiece {
				s.clearCurrentPiece()
				s.adoptNextPiece()
				if s.currentPiece >= 0 {
					return s.requestBlocks()
				}
			}
		case engine.Accepted:
			if int(index) == s.currentPiece {
				s.currentPieceStart = time.Now()
				s.forceReissues = 0
			}
		case engine.CompleteIOError:
			return fmt.Errorf("%w: piece %d", ErrPieceIOError, index)
		}
	case wire.Interested, wire.NotInterested, wire.Request, wire.Cancel:
		log.Debug().Str("peer", s.addr).Uint8("type", uint8(msg.Type)).Msg("acknowledging peer message, not serving")
	}
	return nil
}

// adoptNextPiece picks the next needed piece restricted to what this peer
// advertises and begins it in the engine, bailing quietly on
// ErrTooManyInProgress so the session simply waits for another Unchoke or
// Have to retry.
func (s *Session) adoptNextPiece() {
	index := s.eng.NextNeededPiece(s.peerPieces)
	if index < 0 {
		return
	}
	if err := s.eng.BeginPiece(index); err != nil {
		return
	}
	s.currentPiece = index
	s.currentPieceStart = time.Now()
	s.forceReissues = 0
}

func (s *Session) clearCurrentPiece() {
	s.currentPiece = -1
	s.forceReissues = 0
}

func (s *Session) requestBlocks() error {
	blocks := s.eng.BlocksToRequest(s.currentPiece)
	for _, b := range blocks {
		req := wire.NewRequest(uint32(s.currentPiece), b.Begin, b.Length)
		if err := s.write(req); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendInterested() error {
	s.amInterested = true
	return s.write(&wire.Message{Type: wire.Interested})
}

func (s *Session) write(msg *wire.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(ReadTimeout))
	_, err := s.conn.Write(msg.Marshal())
	return err
}
