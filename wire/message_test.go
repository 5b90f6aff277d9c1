package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"keep-alive", KeepAlive()},
		{"choke", &Message{Type: Choke}},
		{"have", NewHave(42)},
		{"request", NewRequest(1, 0, BlockSize)},
		{"piece", &Message{Type: Piece, Payload: append(FormatRequest(1, 0, 0)[:8], []byte("hello")...)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.NewBuffer(tt.msg.Marshal())
			got, err := ReadFrame(buf)
			require.NoError(t, err)
			require.Equal(t, tt.msg.IsKeepAlive, got.IsKeepAlive)
			if !tt.msg.IsKeepAlive {
				require.Equal(t, tt.msg.Type, got.Type)
				require.Equal(t, tt.msg.Payload, got.Payload)
			}
		})
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xFF // length far exceeds MaxFrameLength
	_, err := ReadFrame(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameRejectsBadShape(t *testing.T) {
	// Have with a 1-byte payload instead of the required 4.
	msg := &Message{Type: Have, Payload: []byte{1}}
	buf := make([]byte, 4)
	length := uint32(1 + len(msg.Payload))
	buf[0], buf[1], buf[2], buf[3] = byte(length>>24), byte(length>>16), byte(length>>8), byte(length)
	buf = append(buf, byte(Have))
	buf = append(buf, msg.Payload...)

	_, err := ReadFrame(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameUnknownTag(t *testing.T) {
	buf := []byte{0, 0, 0, 1, 99}
	_, err := ReadFrame(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameShortStreamIsEOF(t *testing.T) {
	buf := []byte{0, 0, 0, 5, 1} // declares 5 bytes, provides 1
	_, err := ReadFrame(bytes.NewReader(buf))
	require.Error(t, err)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}

func TestParsePieceAndHave(t *testing.T) {
	req := FormatRequest(7, 16384, 16384)
	idx, begin, _, err := ParsePiece(append(req[:8], []byte("data")...))
	require.NoError(t, err)
	require.EqualValues(t, 7, idx)
	require.EqualValues(t, 16384, begin)

	hv := NewHave(99)
	idx2, err := ParseHave(hv.Payload)
	require.NoError(t, err)
	require.EqualValues(t, 99, idx2)
}
