// Package store persists run metadata (download progress, tracker
// state, known peers) across process restarts.
package store

import "gorm.io/gorm"

// Download is one run of the leecher against a single torrent, keyed by
// a generated run ID rather than the info hash so the same torrent can
// be downloaded more than once into different directories.
type Download struct {
	gorm.Model
	RunID           string `gorm:"uniqueIndex"`
	InfoHash        string `gorm:"index"`
	Name            string
	TorrentFilename string
	Status          DownloadStatus
	DownloadDir     string
	TotalSize       int64
	DownloadedSize  int64

	Peers    []Peer
	Pieces   []PieceRecord
	Trackers []Tracker
}

type DownloadStatus = string

const (
	StatusDownloading DownloadStatus = "downloading"
	StatusComplete    DownloadStatus = "complete"
	StatusStalled     DownloadStatus = "stalled"
	StatusError       DownloadStatus = "error"
)

// Peer is a candidate address seen for a download. No unique index
// enforces one row per (DownloadID, IP, Port).
type Peer struct {
	ID           uint `gorm:"primaryKey"`
	DownloadID   uint
	TrackerID    uint
	IP           string
	Port         uint16
	IsSeeder     bool
	IsStopped    bool
	IsChoked     bool
	IsInterested bool
}

// PieceRecord tracks the verified/failed state of one piece of a run.
// Nothing reads it back on startup; every run downloads all pieces.
type PieceRecord struct {
	ID           uint `gorm:"primaryKey"`
	DownloadID   uint
	Index        int
	Hash         string
	IsDownloaded bool
	FailureCount int
}

// Tracker is one announce-list entry and its last observed state.
type Tracker struct {
	ID         uint `gorm:"primaryKey"`
	DownloadID uint
	Announce   string
	Status     TrackerStatus
	LastCheck  int64
	LastError  string
	NextCheck  int64
	Seeders    int
	Leechers   int
}

type TrackerStatus = string

const (
	TrackerAnnouncing TrackerStatus = "announcing"
	TrackerError      TrackerStatus = "error"
	TrackerStopped    TrackerStatus = "stopped"
)
