package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"leech/config"
	"leech/metainfo"
	"leech/store"
)

const VERSION = "0.2.0"

var CLI struct {
	Verify struct {
		Torrent     string `arg:"" help:"Torrent file to verify." type:"existingfile"`
		ContentPath string `arg:"" optional:"" help:"Path to the content files." type:"existingdir"`
	} `cmd:"" help:"Verify a torrent file."`
	Download struct {
		Torrent string `arg:"" help:"Torrent file to download."`
	} `cmd:"" help:"Download a torrent file."`
}

var mainStore *store.Store

func main() {
	initConfig()
	initLogging()
	defer shutdownLogging()

	ctx := kong.Parse(&CLI)
	cmd := ctx.Command()
	switch cmd {
	case "verify <torrent> <content-path>":
		if err := metainfo.VerifyTorrent(CLI.Verify.Torrent, CLI.Verify.ContentPath); err != nil {
			log.Error().Err(err).Msg("verification failed")
			return
		}
		log.Info().Msg("torrent verified successfully")
	case "download <torrent>":
		initStore()
		defer mainStore.Close()
		if err := DownloadTorrent(CLI.Download.Torrent); err != nil {
			log.Error().Err(err).Msg("download failed")
			mainStore.Close()
			shutdownLogging()
			os.Exit(1)
		}
	default:
		ctx.PrintUsage(false)
	}
}

func initConfig() {
	if err := os.MkdirAll(config.Main.CacheDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.CacheDir).Msg("failed to create cache directory")
	}
	if err := os.MkdirAll(config.Main.DownloadDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.DownloadDir).Msg("failed to create download directory")
	}
}

func initStore() {
	var err error
	mainStore, err = store.Open()
	if err != nil {
		log.Fatal().Err(err).Msg("error opening store")
	}
}
