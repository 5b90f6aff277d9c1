package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leech/config"
	"leech/engine"
	"leech/metainfo"
	"leech/metrics"
	"leech/storage"
)

func newTestSwarm(t *testing.T) *Swarm {
	t.Helper()
	dir := t.TempDir()
	tor := &metainfo.Torrent{
		Name:        "t",
		PieceLength: 8,
		TotalLength: 8,
		Files:       []*metainfo.File{{RelPath: "f.bin", Length: 8}},
		PieceHashes: make([][20]byte, 1),
	}
	mapper, err := storage.New(dir, tor.PieceLength, tor.Files)
	assert.NoError(t, err)
	t.Cleanup(func() { mapper.Close() })

	eng := engine.New(tor, mapper)
	cfg := config.NewSwarmConfig()
	return New(cfg, tor, eng, metrics.New(), nil, [20]byte{1})
}

func TestPickUnusedCandidatesExcludesActive(t *testing.T) {
	s := newTestSwarm(t)
	s.candidates = []string{"a:1", "b:2", "c:3"}
	s.active["b:2"] = true

	picked := s.pickUnusedCandidates(10)
	assert.ElementsMatch(t, []string{"a:1", "c:3"}, picked)
}

func TestPickUnusedCandidatesRespectsLimit(t *testing.T) {
	s := newTestSwarm(t)
	s.candidates = []string{"a:1", "b:2", "c:3", "d:4"}

	picked := s.pickUnusedCandidates(2)
	assert.Len(t, picked, 2)
}

func TestActivePeerCountTracksDialLifecycle(t *testing.T) {
	s := newTestSwarm(t)
	assert.Equal(t, 0, s.ActivePeerCount())

	s.mu.Lock()
	s.active["x:1"] = true
	s.activeCount++
	s.mu.Unlock()

	assert.Equal(t, 1, s.ActivePeerCount())
}

func TestRefreshTrackerWithNoTrackersIsNoOp(t *testing.T) {
	s := newTestSwarm(t)
	err := s.refreshTracker(0)
	assert.NoError(t, err)
	assert.Empty(t, s.candidates)
}
