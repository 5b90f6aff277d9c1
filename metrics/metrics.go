// Package metrics provides thread-safe additive counters and a rolling
// download-rate estimator shared between the Swarm driver and the peer
// sessions.
package metrics

import (
	"sync"
	"sync/atomic"
)

// rateWindowSize is the number of one-second samples kept for the rolling
// rate estimator.
const rateWindowSize = 10

// Metrics holds wait-free additive counters plus a short-locked rolling
// throughput window.
type Metrics struct {
	BytesDownloaded       atomic.Int64
	PiecesDownloaded      atomic.Int64
	PiecesVerified        atomic.Int64
	PiecesFailed          atomic.Int64
	ActivePeers           atomic.Int64
	ConnectionAttempts    atomic.Int64
	SuccessfulConnections atomic.Int64
	FailedConnections     atomic.Int64

	rateMu     sync.Mutex
	samples    [rateWindowSize]int64
	next       int
	filled     int
	lastTotal  int64
}

// New returns a zero-valued Metrics ready for use.
func New() *Metrics {
	return &Metrics{}
}

// RecordBlock accounts for n newly-downloaded bytes.
func (m *Metrics) RecordBlock(n int64) {
	m.BytesDownloaded.Add(n)
}

// RecordPieceVerified accounts for one piece passing its hash check.
func (m *Metrics) RecordPieceVerified() {
	m.PiecesDownloaded.Add(1)
	m.PiecesVerified.Add(1)
}

// RecordPieceFailed accounts for one piece failing its hash check.
func (m *Metrics) RecordPieceFailed() {
	m.PiecesFailed.Add(1)
}

// RecordConnectionAttempt accounts for one outbound connection attempt and
// its outcome.
func (m *Metrics) RecordConnectionAttempt(success bool) {
	m.ConnectionAttempts.Add(1)
	if success {
		m.SuccessfulConnections.Add(1)
	} else {
		m.FailedConnections.Add(1)
	}
}

// Sample appends one rolling-window sample of the delta in bytes
// downloaded since the previous Sample call. Intended to be called once
// per second by the Swarm driver's ticker.
func (m *Metrics) Sample() {
	total := m.BytesDownloaded.Load()
	delta := total - m.lastTotal
	m.lastTotal = total

	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	m.samples[m.next] = delta
	m.next = (m.next + 1) % rateWindowSize
	if m.filled < rateWindowSize {
		m.filled++
	}
}

// CurrentRate returns the most recent per-second sample in bytes/sec.
func (m *Metrics) CurrentRate() int64 {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	if m.filled == 0 {
		return 0
	}
	idx := (m.next - 1 + rateWindowSize) % rateWindowSize
	return m.samples[idx]
}

// AverageRate returns the mean of the last up-to-10 per-second samples.
func (m *Metrics) AverageRate() int64 {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	if m.filled == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	return sum / int64(m.filled)
}

// Snapshot is a point-in-time copy of the counters, useful for logging or
// the store's progress column.
type Snapshot struct {
	BytesDownloaded       int64
	PiecesDownloaded      int64
	PiecesVerified        int64
	PiecesFailed          int64
	ActivePeers           int64
	ConnectionAttempts    int64
	SuccessfulConnections int64
	FailedConnections     int64
	CurrentRate           int64
	AverageRate           int64
}

// Snapshot reads every counter plus the current rolling-rate values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesDownloaded:       m.BytesDownloaded.Load(),
		PiecesDownloaded:      m.PiecesDownloaded.Load(),
		PiecesVerified:        m.PiecesVerified.Load(),
		PiecesFailed:          m.PiecesFailed.Load(),
		ActivePeers:           m.ActivePeers.Load(),
		ConnectionAttempts:    m.ConnectionAttempts.Load(),
		SuccessfulConnections: m.SuccessfulConnections.Load(),
		FailedConnections:     m.FailedConnections.Load(),
		CurrentRate:           m.CurrentRate(),
		AverageRate:           m.AverageRate(),
	}
}
