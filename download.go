package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"leech/config"
	"leech/engine"
	"leech/metainfo"
	"leech/metrics"
	"leech/storage"
	"leech/store"
	"leech/swarm"
	"leech/tracker"
	"leech/utils"
)

// DownloadTorrent reads a .torrent file, records a run in the store,
// resolves trackers and peers, and drives the swarm to completion.
func DownloadTorrent(torrentFile string) error {
	log.Info().Str("file", torrentFile).Msg("downloading torrent")

	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := metainfo.FromBytes(content)
	if err != nil {
		return err
	}

	torrentFilename := filepath.Base(torrentFile)
	cachePath := filepath.Join(config.Main.CacheDir, torrentFilename)
	if err := utils.CopyFile(torrentFile, cachePath); err != nil {
		return err
	}

	runID, err := store.NewRunID()
	if err != nil {
		return err
	}
	dl, err := mainStore.CreateDownload(runID, tor, cachePath, config.Main.DownloadDir)
	if err != nil {
		return err
	}

	trackers := make([]tracker.Tracker, 0, len(tor.AnnounceList))
	for _, announce := range tor.AnnounceList {
		t, err := tracker.New(announce)
		if err != nil {
			log.Warn().Err(err).Str("tracker", announce).Msg("skipping unsupported tracker")
			continue
		}
		trackers = append(trackers, t)
	}
	if len(trackers) == 0 {
		return fmt.Errorf("no usable trackers found in %s", torrentFile)
	}

	downloadPath := filepath.Join(config.Main.DownloadDir, tor.Name)
	if err := os.MkdirAll(downloadPath, os.ModePerm); err != nil {
		dl.Status = store.StatusError
		mainStore.UpdateDownload(dl)
		return err
	}

	mapper, err := storage.New(downloadPath, tor.PieceLength, tor.Files)
	if err != nil {
		dl.Status = store.StatusError
		mainStore.UpdateDownload(dl)
		return err
	}
	defer mapper.Close()

	eng := engine.New(tor, mapper)
	eng.SetOnVerified(func(index int) {
		if err := mainStore.MarkPieceVerified(dl.ID, index); err != nil {
			log.Warn().Err(err).Int("piece", index).Msg("recording verified piece in store")
		}
	})
	m := metrics.New()
	peerID := generatePeerID()
	sw := swarm.New(config.Main.Swarm, tor, eng, m, trackers, peerID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progressDone := make(chan struct{})
	go reportProgress(ctx, eng, m, progressDone)

	runErr := sw.Run(ctx)
	close(progressDone)

	dl.DownloadedSize = int64(eng.DownloadedCount()) * tor.PieceLength
	if runErr != nil {
		dl.Status = store.StatusStalled
		mainStore.UpdateDownload(dl)
		return runErr
	}

	dl.Status = store.StatusComplete
	mainStore.UpdateDownload(dl)
	log.Info().Str("name", tor.Name).Msg("download complete")
	return nil
}

// reportProgress logs a periodic summary of piece and throughput progress
// until done is closed.
func reportProgress(ctx context.Context, eng *engine.Engine, m *metrics.Metrics, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			snap := m.Snapshot()
			log.Info().
				Int("verified", eng.DownloadedCount()).
				Int("total", eng.PieceCount()).
				Int64("rate_bps", snap.CurrentRate).
				Msg("download progress")
		}
	}
}
