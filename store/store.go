package store

import (
	"fmt"

	"github.com/gofrs/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"leech/config"
	"leech/metainfo"
)

// Store wraps the sqlite-backed run database.
type Store struct {
	db *gorm.DB
}

// Open migrates and opens the state database at config.Main.DB.Path.
func Open() (*Store, error) {
	db, err := gorm.Open(sqlite.Open(config.Main.DB.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.AutoMigrate(&Download{}, &Peer{}, &PieceRecord{}, &Tracker{}); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewRunID generates the opaque ID that identifies one download run.
func NewRunID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("store: generating run id: %w", err)
	}
	return id.String(), nil
}

// CreateDownload records a new run for tor, seeding one PieceRecord per
// piece and one Tracker per announce-list entry.
func (s *Store) CreateDownload(runID string, tor *metainfo.Torrent, torrentPath, downloadDir string) (*Download, error) {
	download := &Download{
		RunID:           runID,
		InfoHash:        tor.InfoHashString(),
		Name:            tor.Name,
		TorrentFilename: torrentPath,
		Status:          StatusDownloading,
		DownloadDir:     downloadDir,
		TotalSize:       tor.TotalLength,
	}
	if err := s.db.Create(download).Error; err != nil {
		return nil, err
	}

	for i, hash := range tor.PieceHashes {
		piece := &PieceRecord{
			DownloadID: download.ID,
			Index:      i,
			Hash:       fmt.Sprintf("%x", hash),
		}
		if err := s.db.Create(piece).Error; err != nil {
			return nil, err
		}
	}

	for _, announce := range tor.AnnounceList {
		tracker := &Tracker{
			DownloadID: download.ID,
			Announce:   announce,
			Status:     TrackerAnnouncing,
		}
		if err := s.db.Create(tracker).Error; err != nil {
			return nil, err
		}
	}

	result := s.db.Preload("Trackers").Preload("Pieces").First(download)
	if result.Error != nil {
		return nil, result.Error
	}
	return download, nil
}

// FindDownloadByRunID loads a previously created run by its run ID.
func (s *Store) FindDownloadByRunID(runID string) (*Download, error) {
	download := &Download{}
	result := s.db.Preload("Trackers").Preload("Pieces").Preload("Peers").
		Where("run_id = ?", runID).First(download)
	return download, result.Error
}

func (s *Store) UpdateDownload(download *Download) error {
	return s.db.Save(download).Error
}

// MarkPieceVerified flips the stored piece at index to downloaded. Called
// from engine.Engine's onVerified hook as each piece completes.
func (s *Store) MarkPieceVerified(downloadID uint, index int) error {
	return s.db.Model(&PieceRecord{}).
		Where("download_id = ? AND \"index\" = ?", downloadID, index).
		Update("is_downloaded", true).Error
}
