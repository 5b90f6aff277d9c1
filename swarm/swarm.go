// Package swarm owns the candidate peer pool and the set of live
// sessions for one torrent download, driving initial fill, replenishment,
// adaptive target sizing, tracker refresh, and stall recovery.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"leech/config"
	"leech/engine"
	"leech/metainfo"
	"leech/metrics"
	"leech/session"
	"leech/tracker"
)

// ErrSwarmStalled is returned by Run when three consecutive aggressive
// recovery rounds fail to verify a new piece.
var ErrSwarmStalled = errors.New("swarm: stalled, no progress from any peer")

// Swarm drives a torrent download to completion against a live set of
// peer sessions.
type Swarm struct {
	cfg     *config.SwarmConfig
	tor     *metainfo.Torrent
	eng     *engine.Engine
	m       *metrics.Metrics
	trackers []tracker.Tracker
	peerID  [20]byte

	mu          sync.Mutex
	candidates  []string
	seen        map[string]bool
	active      map[string]bool
	activeCount int
}

// New builds a Swarm ready to Run against tor, driving eng and recording
// to m. trackers should be the already-constructed set of tracker
// clients built from tor.AnnounceList.
func New(cfg *config.SwarmConfig, tor *metainfo.Torrent, eng *engine.Engine, m *metrics.Metrics, trackers []tracker.Tracker, peerID [20]byte) *Swarm {
	return &Swarm{
		cfg:      cfg,
		tor:      tor,
		eng:      eng,
		m:        m,
		trackers: trackers,
		peerID:   peerID,
		seen:     make(map[string]bool),
		active:   make(map[string]bool),
	}
}

// Run drives the swarm until the engine reports the download complete,
// ctx is cancelled, or the swarm stalls out.
func (s *Swarm) Run(ctx context.Context) error {
	if err := s.refreshTracker(0); err != nil {
		log.Warn().Err(err).Msg("initial tracker refresh failed")
	}
	if len(s.candidates) == 0 {
		return fmt.Errorf("swarm: no candidate peers available")
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error { return s.initialFill(egCtx) })
	eg.Go(func() error { return s.replenishLoop(egCtx) })
	eg.Go(func() error { return s.adaptiveTargetLoop(egCtx) })
	eg.Go(func() error { return s.trackerRefreshLoop(egCtx) })
	eg.Go(func() error { return s.stallRecoveryLoop(egCtx) })
	eg.Go(func() error { return s.metricsSampleLoop(egCtx) })
	eg.Go(func() error { return s.completionWatcher(egCtx) })

	err := eg.Wait()
	if errors.Is(err, errDownloadComplete) {
		return nil
	}
	return err
}

var errDownloadComplete = errors.New("swarm: download complete")

func (s *Swarm) completionWatcher(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.eng.IsComplete() {
				return errDownloadComplete
			}
		}
	}
}

// initialFill attempts candidates, in randomized order, up to
// MaxInitialCandidates, starting a session goroutine for each that
// handshakes successfully.
func (s *Swarm) initialFill(ctx context.Context) error {
	order := s.randomizedCandidates()
	limit := s.cfg.MaxInitialCandidates
	if limit > len(order) {
		limit = len(order)
	}
	for _, addr := range order[:limit] {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.dial(ctx, addr)
	}
	return nil
}

func (s *Swarm) replenishLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReplenishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.ActivePeerCount() >= s.targetPeerCount() {
				continue
			}
			for _, addr := range s.pickUnusedCandidates(s.cfg.ReplenishBatch) {
				s.dial(ctx, addr)
			}
		}
	}
}

func (s *Swarm) adaptiveTargetLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.AdaptInterval)
	defer ticker.Stop()
	lastVerified := s.m.PiecesVerified.Load()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			verified := s.m.PiecesVerified.Load()
			delta := verified - lastVerified
			lastVerified = verified

			s.mu.Lock()
			if delta < 5 && s.cfg.TargetPeerCount < s.cfg.TargetPeerCountMax {
				s.cfg.TargetPeerCount += 5
				if s.cfg.TargetPeerCount > s.cfg.TargetPeerCountMax {
					s.cfg.TargetPeerCount = s.cfg.TargetPeerCountMax
				}
			} else if delta > 20 && s.cfg.TargetPeerCount > 15 {
				s.cfg.TargetPeerCount -= 2
			}
			s.mu.Unlock()
		}
	}
}

func (s *Swarm) trackerRefreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TrackerRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.refreshTracker(int64(s.eng.DownloadedCount())); err != nil {
				log.Warn().Err(err).Msg("periodic tracker refresh failed")
			}
		}
	}
}

func (s *Swarm) stallRecoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StallTimeout)
	defer ticker.Stop()
	lastVerified := s.m.PiecesVerified.Load()
	rounds := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			verified := s.m.PiecesVerified.Load()
			if verified != lastVerified {
				lastVerified = verified
				rounds = 0
				continue
			}
			rounds++
			if rounds > s.cfg.StallRounds {
				return ErrSwarmStalled
			}
			log.Warn().Int("round", rounds).Msg("swarm stalled, opening aggressive recovery sessions")
			for _, addr := range s.pickUnusedCandidates(5) {
				s.dial(ctx, addr)
			}
		}
	}
}

func (s *Swarm) metricsSampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.m.Sample()
			s.m.ActivePeers.Store(int64(s.ActivePeerCount()))
		}
	}
}

// dial starts one session goroutine against addr, registering it in the
// active set and cleaning up on exit. It does not block the caller. The
// session itself owns its connection and terminates on its own timeout
// or error rules (spec.md §4.2); ctx only governs whether dial bothers
// starting it at all.
func (s *Swarm) dial(ctx context.Context, addr string) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.active[addr] {
		s.mu.Unlock()
		return
	}
	s.active[addr] = true
	s.activeCount++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, addr)
			s.activeCount--
			s.mu.Unlock()
		}()

		sess, err := session.Connect(addr, s.cfg.LocalAddr, s.tor.InfoHash, s.peerID, s.tor.PieceCount(), s.eng, s.m)
		if err != nil {
			log.Debug().Err(err).Str("peer", addr).Msg("session connect failed")
			return
		}
		if err := sess.Run(); err != nil {
			log.Debug().Err(err).Str("peer", addr).Msg("session ended")
		}
	}()
}

// ActivePeerCount returns the number of currently live sessions.
func (s *Swarm) ActivePeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

func (s *Swarm) targetPeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TargetPeerCount
}

// refreshTracker re-announces to every tracker and merges unseen peer
// addresses into the candidate pool, deduplicated by address string.
func (s *Swarm) refreshTracker(downloaded int64) error {
	left := s.tor.TotalLength - downloaded*s.tor.PieceLength
	params := tracker.Params{
		PeerID:     s.peerID,
		Port:       6881,
		Downloaded: downloaded * s.tor.PieceLength,
		Left:       left,
		Compact:    true,
		NumWant:    50,
	}

	var lastErr error
	newCount := 0
	for _, t := range s.trackers {
		peers, err := t.GetPeers(s.tor, params)
		if err != nil {
			lastErr = err
			continue
		}
		s.mu.Lock()
		for _, p := range peers {
			addr := p.String()
			if !s.seen[addr] {
				s.seen[addr] = true
				s.candidates = append(s.candidates, addr)
				newCount++
			}
		}
		s.mu.Unlock()
	}
	if newCount == 0 && lastErr != nil {
		return lastErr
	}
	log.Info().Int("new_peers", newCount).Msg("tracker refresh merged candidates")
	return nil
}

func (s *Swarm) randomizedCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.candidates...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// pickUnusedCandidates chooses up to n candidates uniformly at random
// from those not currently active.
func (s *Swarm) pickUnusedCandidates(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unused []string
	for _, addr := range s.candidates {
		if _, active := s.active[addr]; !active {
			unused = append(unused, addr)
		}
	}
	rand.Shuffle(len(unused), func(i, j int) { unused[i], unused[j] = unused[j], unused[i] })
	if n > len(unused) {
		n = len(unused)
	}
	return unused[:n]
}
