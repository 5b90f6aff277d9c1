package config

import (
	"os"
	"strconv"
	"time"
)

// SwarmConfig holds the numeric tunables spec.md §4.5 names as defaults,
// overridable via env so tests can shrink the timers.
type SwarmConfig struct {
	TargetPeerCount      int
	TargetPeerCountMax   int
	MaxInitialCandidates int
	ReplenishInterval    time.Duration
	ReplenishBatch       int
	AdaptInterval        time.Duration
	TrackerRefresh       time.Duration
	StallTimeout         time.Duration
	StallRounds          int
	LocalAddr            string
}

func NewSwarmConfig() *SwarmConfig {
	return &SwarmConfig{
		TargetPeerCount:      envInt("SWARM_TARGET_PEERS", 10),
		TargetPeerCountMax:   envInt("SWARM_TARGET_PEERS_MAX", 30),
		MaxInitialCandidates: envInt("SWARM_INITIAL_CANDIDATES", 50),
		ReplenishInterval:    envDuration("SWARM_REPLENISH_INTERVAL", 5*time.Second),
		ReplenishBatch:       envInt("SWARM_REPLENISH_BATCH", 3),
		AdaptInterval:        envDuration("SWARM_ADAPT_INTERVAL", 30*time.Second),
		TrackerRefresh:       envDuration("SWARM_TRACKER_REFRESH", 5*time.Minute),
		StallTimeout:         envDuration("SWARM_STALL_TIMEOUT", 2*time.Minute),
		StallRounds:          envInt("SWARM_STALL_ROUNDS", 3),
		LocalAddr:            os.Getenv("SWARM_LOCAL_ADDR"),
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
