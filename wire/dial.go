package wire

import (
	"fmt"
	"net"
	"time"
)

// DialTimeout is the connection establishment budget spec.md §4.2 mandates.
const DialTimeout = 5 * time.Second

// HandshakeTimeout bounds how long Perform waits for the peer's handshake
// to arrive once the local one has been sent.
const HandshakeTimeout = 10 * time.Second

// Dial opens a TCP connection to addr, optionally from localAddr, honoring
// DialTimeout.
func Dial(addr, localAddr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: DialTimeout}
	if localAddr != "" {
		local, err := net.ResolveTCPAddr("tcp", localAddr)
		if err != nil {
			return nil, fmt.Errorf("resolving local bind address: %w", err)
		}
		dialer.LocalAddr = local
	}
	return dialer.Dial("tcp", addr)
}

// Perform sends the local handshake and reads the peer's, enforcing
// HandshakeTimeout on the full exchange and verifying the peer's
// info_hash matches infoHash. The elapsed time is returned so callers can
// distinguish a protocol error from a timeout in their own logging.
func Perform(conn net.Conn, infoHash, peerID [20]byte) (*Handshake, time.Duration, error) {
	start := time.Now()
	conn.SetDeadline(start.Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	local := NewHandshake(infoHash, peerID)
	if _, err := conn.Write(local.Marshal()); err != nil {
		return nil, time.Since(start), fmt.Errorf("sending handshake: %w", err)
	}

	peer, err := ReadHandshake(conn)
	if err != nil {
		return nil, time.Since(start), fmt.Errorf("reading handshake: %w", err)
	}
	if err := peer.EnsureInfoHash(infoHash); err != nil {
		return nil, time.Since(start), err
	}
	return peer, time.Since(start), nil
}
