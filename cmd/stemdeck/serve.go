package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/stemdeck/internal/api"
	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/session"
	"github.com/satindergrewal/stemdeck/internal/speaker"
	"github.com/satindergrewal/stemdeck/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mixer with its HTTP API and monitor streams",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	f.StringVar(&cfg.SessionDir, "session-dir", cfg.SessionDir,
		"Working directory for session audio (empty creates a temp dir removed on exit)")
	f.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Reload tracks when their files change on disk")
	f.BoolVar(&cfg.Speaker, "speaker", cfg.Speaker, "Also play the live mix on the local audio device")
	f.IntVar(&cfg.StreamBitrate, "opus-bitrate", cfg.StreamBitrate, "WebRTC Opus bitrate in bits/s")
	f.StringVar(&cfg.MP3Bitrate, "mp3-bitrate", cfg.MP3Bitrate, "HTTP MP3 stream bitrate")
}

// sessionDir returns the asset dir to use and a cleanup func for it.
func sessionDir() (string, func(), error) {
	if cfg.SessionDir != "" {
		return cfg.SessionDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "stemdeck-session-")
	if err != nil {
		return "", nil, fmt.Errorf("create session dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Remove session dir: %v", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dir, cleanup, err := sessionDir()
	if err != nil {
		return err
	}
	defer cleanup()

	log.Println("stemdeck starting up...")

	codec := audio.NewFileCodec(cfg.FFmpegPath)
	hub := api.NewEventHub()
	sess, err := session.New(session.Options{
		AssetDir:         dir,
		Codec:            codec,
		Observer:         hub,
		Estimator:        newEstimator(codec),
		BPM:              cfg.BPM,
		CommitBitrate:    cfg.CommitBitrate,
		ExportBitrate:    cfg.ExportBitrate,
		MeterInterval:    cfg.MeterInterval,
		PositionInterval: cfg.PositionInterval,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	log.Printf("Session audio in %s", dir)

	// Output bus: one 20ms frame per tick, fanned out to every listener
	go sess.Bus().Run(ctx)
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, sess.Bus().Frames())

	if cfg.Watch {
		go func() {
			if err := sess.Watch(ctx); err != nil {
				log.Printf("File watch disabled: %v", err)
			}
		}()
	}

	if cfg.Speaker {
		spk, err := speaker.Open()
		if err != nil {
			log.Printf("Speaker disabled: %v", err)
		} else {
			go spk.Run(ctx, broadcaster)
		}
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.StreamBitrate)
	defer webrtcHandler.Close()

	srv := api.NewServer(sess, hub)
	srv.Handle("GET /stream", stream.NewHTTPHandler(broadcaster, cfg.FFmpegPath, cfg.MP3Bitrate))
	srv.Handle("/offer", webrtcHandler)
	srv.Listeners = func() (int, int) {
		return broadcaster.ListenerCount(), webrtcHandler.PeerCount()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("stemdeck live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
