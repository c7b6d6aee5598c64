package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/config"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/session"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// cfg starts from the environment; command flags override it.
var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "stemdeck",
	Short: "A ten-track stem mixer with tempo, EQ, trim and a timeline",
	Long: `stemdeck loads up to ten audio stems, plays them in sync at a common
tempo, and arranges them on a 10x5 timeline grid of 16 second intervals.

The serve command exposes the mixer over HTTP with a live monitor stream
(MP3 and WebRTC); mixdown and probe work on files without a server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath,
		"FFmpeg binary used for MP3 and other non-WAV formats")
	rootCmd.PersistentFlags().Float64Var(&cfg.BPM, "bpm", cfg.BPM,
		"Starting tempo in BPM (120 plays tracks unscaled)")

	rootCmd.AddCommand(serveCmd, mixdownCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", audio.Describe(err))
		os.Exit(1)
	}
}

// newEstimator decodes a file and runs the onset-based tempo estimate on it.
func newEstimator(codec audio.Codec) session.TempoEstimator {
	return func(path string) (float64, error) {
		buf, err := codec.Decode(path)
		if err != nil {
			return 0, err
		}
		return dsp.EstimateTempo(buf)
	}
}
