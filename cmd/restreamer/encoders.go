package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
)

func newEncodersCmd() *cobra.Command {
	var ffmpegPath string
	var detect bool

	cmd := &cobra.Command{
		Use:   "encoders",
		Short: "Show the encoder order this host would try",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			var available map[string]bool
			if detect {
				available = ffmpeg.DetectEncoders(ffmpegPath)
			}

			tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tENCODER\tNAME\tHARDWARE")
			for i, v := range ffmpeg.HostCandidates(available) {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", i+1, v.Encoder, v.Name, v.Hardware())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "Path to ffmpeg binary")
	cmd.Flags().BoolVar(&detect, "detect", true, "Probe ffmpeg for available encoders")
	return cmd
}
