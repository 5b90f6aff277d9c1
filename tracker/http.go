package tracker

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/go-resty/resty/v2"

	"leech/bencode"
	"leech/metainfo"
)

type httpTracker struct {
	announceURL string
	lastCheck   int64
	nextCheck   int64
	lastError   error
	lastWarning string
	trackerID   string
	seeders     int
	leechers    int
}

func newHTTPTracker(announce string) Tracker {
	return &httpTracker{announceURL: announce}
}

func (t *httpTracker) Announce() string { return t.announceURL }
func (t *httpTracker) LastCheck() int64 { return t.lastCheck }
func (t *httpTracker) NextCheck() int64 { return t.nextCheck }
func (t *httpTracker) LastError() error { return t.lastError }
func (t *httpTracker) Seeders() int     { return t.seeders }
func (t *httpTracker) Leechers() int    { return t.leechers }

func (t *httpTracker) GetPeers(tor *metainfo.Torrent, params Params) ([]netip.AddrPort, error) {
	peers := make([]netip.AddrPort, 0)
	cli := resty.New().SetTimeout(15 * time.Second)

	numWant := params.NumWant
	if numWant <= 0 {
		numWant = 50
	}

	req := cli.R().
		SetQueryParam("info_hash", string(tor.InfoHash[:])).
		SetQueryParam("peer_id", string(params.PeerID[:])).
		SetQueryParam("port", fmt.Sprintf("%d", params.Port)).
		SetQueryParam("uploaded", fmt.Sprintf("%d", params.Uploaded)).
		SetQueryParam("downloaded", fmt.Sprintf("%d", params.Downloaded)).
		SetQueryParam("left", fmt.Sprintf("%d", params.Left)).
		SetQueryParam("compact", "1").
		SetQueryParam("numwant", fmt.Sprintf("%d", numWant))

	if params.Event != EventNone {
		req.SetQueryParam("event", string(params.Event))
	}
	if params.Key != "" {
		req.SetQueryParam("key", params.Key)
	}
	if params.TrackerID != "" {
		req.SetQueryParam("trackerid", params.TrackerID)
	}

	resp, err := req.Get(t.announceURL)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
		t.lastError = err
		return peers, err
	}
	t.lastCheck = time.Now().Unix()
	if resp.StatusCode() != 200 {
		err = fmt.Errorf("%w: status code %d", ErrTrackerUnreachable, resp.StatusCode())
		t.lastError = err
		return peers, err
	}

	response, _, err := bencode.Decode(resp.Body())
	if err != nil {
		err = fmt.Errorf("%w: decoding response: %v", ErrTrackerUnreachable, err)
		t.lastError = err
		return peers, err
	}
	respDict := response.AsDict()

	if failureReason, ok := respDict["failure reason"]; ok {
		err = fmt.Errorf("tracker failure: %s", failureReason.AsString())
		t.lastError = err
		return peers, err
	}

	if complete, ok := respDict["complete"]; ok {
		t.seeders = int(complete.AsInt())
	}
	if incomplete, ok := respDict["incomplete"]; ok {
		t.leechers = int(incomplete.AsInt())
	}
	if interval, ok := respDict["interval"]; ok {
		t.nextCheck = time.Now().Unix() + int64(interval.AsInt())
	}
	if trackerID, ok := respDict["tracker id"]; ok {
		t.trackerID = trackerID.AsString()
	}
	if warning, ok := respDict["warning message"]; ok {
		t.lastWarning = warning.AsString()
	}

	if peersList, ok := respDict["peers"]; ok {
		if peersList.Type == bencode.STRING {
			raw := peersList.AsString()
			for i := 0; i+6 <= len(raw); i += 6 {
				addr := netip.AddrFrom4([4]byte{raw[i], raw[i+1], raw[i+2], raw[i+3]})
				port := uint16(raw[i+4])<<8 + uint16(raw[i+5])
				peers = append(peers, netip.AddrPortFrom(addr, port))
			}
		} else if peersList.Type == bencode.LIST {
			for _, peerData := range peersList.AsList() {
				peerDict := peerData.AsDict()
				ip, err := netip.ParseAddr(peerDict["ip"].AsString())
				if err != nil {
					continue
				}
				peers = append(peers, netip.AddrPortFrom(ip, uint16(peerDict["port"].AsInt())))
			}
		}
	}

	return peers, nil
}

// TrackerID is the tracker-assigned ID returned by some trackers that
// should be echoed back on subsequent announces.
func (t *httpTracker) TrackerID() string {
	return t.trackerID
}
