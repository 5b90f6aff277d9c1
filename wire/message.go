package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the fixed block granularity for Request/Piece payloads.
const BlockSize = 16 * 1024

// MaxFrameLength bounds the length prefix the decoder will accept. Sized
// for a Piece message carrying one block plus its 9-byte header, with
// slack for peers that pad or round up.
const MaxFrameLength = 128*1024 + 32*1024

// MessageType identifies the tag byte of a non-keepalive message.
type MessageType uint8

const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	BitfieldMsg
	Request
	Piece
	Cancel
)

// ErrMalformedFrame is returned for any frame whose length, tag, or
// payload shape does not match the protocol.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// Message is a single decoded peer wire message. IsKeepAlive distinguishes
// the zero-length keep-alive frame, which carries no type byte.
type Message struct {
	IsKeepAlive bool
	Type        MessageType
	Payload     []byte
}

// KeepAlive constructs the zero-length keep-alive message.
func KeepAlive() *Message { return &Message{IsKeepAlive: true} }

// Marshal serializes m into its 4-byte-length-prefixed wire form.
func (m *Message) Marshal() []byte {
	if m.IsKeepAlive {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.Type)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadFrame reads exactly one frame from r: the 4-byte length prefix plus
// length bytes of payload, looping internally to satisfy short reads. A
// length of 0 decodes to a keep-alive with no further bytes consumed.
func ReadFrame(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive(), nil
	}
	if length > MaxFrameLength {
		return nil, fmt.Errorf("%w: length %d exceeds max %d", ErrMalformedFrame, length, MaxFrameLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msg := &Message{Type: MessageType(body[0]), Payload: body[1:]}
	if err := validateShape(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// validateShape enforces the fixed payload length each message type
// requires, per the protocol table in the wire spec.
func validateShape(m *Message) error {
	switch m.Type {
	case Choke, Unchoke, Interested, NotInterested:
		if len(m.Payload) != 0 {
			return fmt.Errorf("%w: type %d expects empty payload, got %d bytes", ErrMalformedFrame, m.Type, len(m.Payload))
		}
	case Have:
		if len(m.Payload) != 4 {
			return fmt.Errorf("%w: have payload must be 4 bytes, got %d", ErrMalformedFrame, len(m.Payload))
		}
	case BitfieldMsg:
		// opaque, any length including zero is valid framing-wise
	case Request, Cancel:
		if len(m.Payload) != 12 {
			return fmt.Errorf("%w: request/cancel payload must be 12 bytes, got %d", ErrMalformedFrame, len(m.Payload))
		}
	case Piece:
		if len(m.Payload) < 8 {
			return fmt.Errorf("%w: piece payload must be at least 8 bytes, got %d", ErrMalformedFrame, len(m.Payload))
		}
	default:
		return fmt.Errorf("%w: unknown message type %d", ErrMalformedFrame, m.Type)
	}
	return nil
}

// FormatRequest builds the 12-byte payload for a Request or Cancel message.
func FormatRequest(index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return payload
}

// NewRequest builds a complete Request message.
func NewRequest(index, begin, length uint32) *Message {
	return &Message{Type: Request, Payload: FormatRequest(index, begin, length)}
}

// NewCancel builds a complete Cancel message.
func NewCancel(index, begin, length uint32) *Message {
	return &Message{Type: Cancel, Payload: FormatRequest(index, begin, length)}
}

// NewHave builds a complete Have message.
func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{Type: Have, Payload: payload}
}

// ParsePiece extracts index, begin, and the block data from a Piece
// message payload. The returned slice aliases m.Payload.
func ParsePiece(payload []byte) (index, begin uint32, data []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("%w: piece payload too short", ErrMalformedFrame)
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	data = payload[8:]
	return
}

// ParseHave extracts the piece index from a Have message payload.
func ParseHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: have payload invalid length", ErrMalformedFrame)
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ParseRequest extracts index, begin, length from a Request/Cancel payload.
func ParseRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("%w: request payload invalid length", ErrMalformedFrame)
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return
}
