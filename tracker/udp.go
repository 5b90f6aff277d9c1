package tracker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"net/url"
	"time"

	"leech/metainfo"
)

// BEP-15 action codes.
const (
	actionConnect  = 0
	actionAnnounce = 1
	actionScrape   = 2
)

const magicConnectionID = 0x41727101980

// backoffSchedule is the per-endpoint retry budget: three attempts before
// giving up on this tracker for the round. GetPeers sleeps backoffSchedule[n]
// before attempt n (n > 0), i.e. 30s before the second and 45s before the
// third; the first entry is never slept.
var backoffSchedule = []time.Duration{15 * time.Second, 30 * time.Second, 45 * time.Second}

type udpTracker struct {
	announceURL  string
	lastCheck    int64
	nextCheck    int64
	lastError    error
	conn         *net.UDPConn
	connectionID int64
	leechers     int32
	seeders      int32
	peers        []netip.AddrPort
}

func newUDPTracker(announce string) Tracker {
	return &udpTracker{
		announceURL: announce,
		peers:       make([]netip.AddrPort, 0),
	}
}

func (t *udpTracker) Announce() string { return t.announceURL }
func (t *udpTracker) LastCheck() int64 { return t.lastCheck }
func (t *udpTracker) NextCheck() int64 { return t.nextCheck }
func (t *udpTracker) LastError() error { return t.lastError }
func (t *udpTracker) Seeders() int     { return int(t.seeders) }
func (t *udpTracker) Leechers() int    { return int(t.leechers) }

func (t *udpTracker) GetPeers(tor *metainfo.Torrent, params Params) ([]netip.AddrPort, error) {
	var lastErr error
	for attempt, wait := range backoffSchedule {
		if attempt > 0 {
			time.Sleep(wait)
		}
		peers, err := t.attempt(tor, params)
		if err == nil {
			return peers, nil
		}
		lastErr = err
		t.lastError = err
	}
	return nil, fmt.Errorf("%w: %v", ErrTrackerUnreachable, lastErr)
}

func (t *udpTracker) attempt(tor *metainfo.Torrent, params Params) ([]netip.AddrPort, error) {
	if err := t.connect(); err != nil {
		return nil, err
	}
	defer t.disconnect()

	if err := t.acquireConnectionID(); err != nil {
		return nil, err
	}
	if err := t.scrape(tor); err != nil {
		return nil, err
	}
	if err := t.announce(tor, params); err != nil {
		return nil, err
	}
	return t.peers, nil
}

func (t *udpTracker) connect() error {
	u, err := url.Parse(t.announceURL)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return t.conn.SetDeadline(time.Now().Add(15 * time.Second))
}

func (t *udpTracker) disconnect() {
	t.conn.Close()
}

func (t *udpTracker) acquireConnectionID() error {
	transactionID := rand.Int32()
	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
	}{
		ConnectionID: magicConnectionID,
		Action:       actionConnect,
		Transaction:  transactionID,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return err
	}
	if _, err := t.conn.Write(buf.Bytes()); err != nil {
		return err
	}

	response := struct {
		Action       int32
		Transaction  int32
		ConnectionID int64
	}{}
	if err := binary.Read(t.conn, binary.BigEndian, &response); err != nil {
		return err
	}
	if response.Transaction != transactionID {
		return fmt.Errorf("transaction id mismatch")
	}
	if response.Action != actionConnect {
		return fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.connectionID = response.ConnectionID
	return nil
}

func (t *udpTracker) announce(tor *metainfo.Torrent, params Params) error {
	transactionID := rand.Int32()

	event := int32(eventFromParams(params.Event))

	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
		InfoHash     [20]byte
		PeerID       [20]byte
		Downloaded   int64
		Left         int64
		Uploaded     int64
		Event        int32
		IP           int32
		Key          int32
		NumWant      int32
		Port         uint16
	}{
		ConnectionID: t.connectionID,
		Action:       actionAnnounce,
		Transaction:  transactionID,
		InfoHash:     tor.InfoHash,
		PeerID:       params.PeerID,
		Downloaded:   params.Downloaded,
		Left:         params.Left,
		Uploaded:     params.Uploaded,
		Event:        event,
		IP:           0,
		Key:          0,
		NumWant:      -1,
		Port:         params.Port,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return err
	}
	if _, err := t.conn.Write(buf.Bytes()); err != nil {
		return err
	}

	readBytes := make([]byte, 1024)
	n, err := t.conn.Read(readBytes)
	if err != nil {
		return err
	}
	readBytes = readBytes[:n]

	response := struct {
		Action      int32
		Transaction int32
		Interval    int32
		Leechers    int32
		Seeders     int32
	}{}
	if err := binary.Read(bytes.NewReader(readBytes), binary.BigEndian, &response); err != nil {
		return err
	}
	if response.Transaction != transactionID {
		return fmt.Errorf("transaction id mismatch")
	}
	if response.Action != actionAnnounce {
		return fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.leechers = response.Leechers
	t.seeders = response.Seeders

	t.peers = t.peers[:0]
	readBytes = readBytes[20:]
	for len(readBytes) >= 6 {
		addr := netip.AddrFrom4([4]byte{readBytes[0], readBytes[1], readBytes[2], readBytes[3]})
		port := uint16(readBytes[4])<<8 + uint16(readBytes[5])
		t.peers = append(t.peers, netip.AddrPortFrom(addr, port))
		readBytes = readBytes[6:]
	}

	t.lastCheck = time.Now().Unix()
	t.nextCheck = t.lastCheck + int64(response.Interval)
	return nil
}

func (t *udpTracker) scrape(tor *metainfo.Torrent) error {
	transactionID := rand.Int32()
	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
		InfoHash     [20]byte
	}{
		ConnectionID: t.connectionID,
		Action:       actionScrape,
		Transaction:  transactionID,
		InfoHash:     tor.InfoHash,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return err
	}
	if _, err := t.conn.Write(buf.Bytes()); err != nil {
		return err
	}

	readBytes := make([]byte, 1024)
	n, err := t.conn.Read(readBytes)
	if err != nil {
		return err
	}
	readBytes = readBytes[:n]

	response := struct {
		Action      int32
		Transaction int32
		Seeders     int32
		Completed   int32
		Leechers    int32
	}{}
	if err := binary.Read(bytes.NewReader(readBytes), binary.BigEndian, &response); err != nil {
		return err
	}
	if response.Transaction != transactionID {
		return fmt.Errorf("transaction id mismatch")
	}
	if response.Action != actionScrape {
		return fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.seeders = response.Seeders
	t.leechers = response.Leechers
	t.lastCheck = time.Now().Unix()
	return nil
}

func eventFromParams(e Event) int32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}
