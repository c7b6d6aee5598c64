package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print the format, length, level and estimated tempo of an audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := audio.NewFileCodec(cfg.FFmpegPath).Decode(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "format:   %s\n", buf.Format())
		fmt.Fprintf(out, "duration: %s (%d frames)\n", audio.FormatClock(buf.Duration()), buf.FrameCount())
		fmt.Fprintf(out, "peak:     %d\n", buf.Peak())
		fmt.Fprintf(out, "rms:      %.1f\n", buf.RMS())
		if bpm, err := dsp.EstimateTempo(buf); err == nil {
			fmt.Fprintf(out, "tempo:    ~%.1f BPM\n", bpm)
		} else {
			fmt.Fprintf(out, "tempo:    %s\n", audio.Describe(err))
		}
		return nil
	},
}
