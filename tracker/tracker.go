// Package tracker implements the HTTP and UDP (BEP-15) tracker clients
// that turn a torrent's announce URLs into a list of candidate peer
// addresses.
package tracker

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"

	"leech/metainfo"
)

// ErrTrackerUnreachable marks a tracker as having failed for this request;
// the engine should try the next announce-list alternate.
var ErrTrackerUnreachable = errors.New("tracker: unreachable")

// Event is the optional lifecycle event sent with an announce.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// Params carries the per-request announce parameters spec.md §6 lists.
type Params struct {
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	Event      Event
	NumWant    int
	Key        string
	TrackerID  string
}

// Tracker is the boundary interface the engine uses to learn about peers;
// implementations speak HTTP(S) or UDP depending on the announce URL's
// scheme.
type Tracker interface {
	GetPeers(tor *metainfo.Torrent, params Params) ([]netip.AddrPort, error)
	Announce() string
	LastCheck() int64
	NextCheck() int64
	LastError() error
	Seeders() int
	Leechers() int
}

// New dispatches on the announce URL's scheme to build an HTTP or UDP
// tracker client.
func New(announce string) (Tracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing announce url: %v", ErrTrackerUnreachable, err)
	}
	switch u.Scheme {
	case "http", "https", "":
		return newHTTPTracker(announce), nil
	case "udp":
		return newUDPTracker(announce), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrTrackerUnreachable, u.Scheme)
	}
}
