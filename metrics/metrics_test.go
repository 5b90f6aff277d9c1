package metrics

import "testing"

func TestRollingRateAverage(t *testing.T) {
	m := New()
	deltas := []int64{100, 200, 300}
	for _, d := range deltas {
		m.BytesDownloaded.Add(d)
		m.Sample()
	}

	if got, want := m.CurrentRate(), int64(300); got != want {
		t.Errorf("CurrentRate() = %d, want %d", got, want)
	}
	if got, want := m.AverageRate(), int64(200); got != want {
		t.Errorf("AverageRate() = %d, want %d", got, want)
	}
}

func TestRollingRateWindowCapsAtTen(t *testing.T) {
	m := New()
	for i := 0; i < 15; i++ {
		m.BytesDownloaded.Add(10)
		m.Sample()
	}
	// every sample added the same 10-byte delta, so average should still be 10
	if got := m.AverageRate(); got != 10 {
		t.Errorf("AverageRate() = %d, want 10", got)
	}
}

func TestCountersAreAdditive(t *testing.T) {
	m := New()
	m.RecordPieceVerified()
	m.RecordPieceVerified()
	m.RecordPieceFailed()
	m.RecordConnectionAttempt(true)
	m.RecordConnectionAttempt(false)

	snap := m.Snapshot()
	if snap.PiecesVerified != 2 {
		t.Errorf("PiecesVerified = %d, want 2", snap.PiecesVerified)
	}
	if snap.PiecesFailed != 1 {
		t.Errorf("PiecesFailed = %d, want 1", snap.PiecesFailed)
	}
	if snap.SuccessfulConnections != 1 || snap.FailedConnections != 1 {
		t.Errorf("connection counters wrong: %+v", snap)
	}
}
