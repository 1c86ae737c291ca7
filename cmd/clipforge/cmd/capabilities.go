package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/service"
)

var capabilitiesJSON bool

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show the detected ffmpeg features",
	Long: `Detect ffmpeg and report its version, the usable hardware encoders,
the backend an export would use and the frame-ready strategy.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := appConfig
		mode, err := encoder.ParseMode(cfg.Export.Backend)
		if err != nil {
			return err
		}

		svc := service.NewCapabilitiesService(newDetector(cfg.FFmpeg, mode), mode, cfg.FFmpeg.HWAccelPriority, cfg.Export.FrameReady)
		caps, err := svc.Get(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if capabilitiesJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}

		hw := "none"
		if len(caps.HWAccels) > 0 {
			hw = strings.Join(caps.HWAccels, ", ")
		}
		fmt.Fprintf(w, "ffmpeg:        %s (%s)\n", caps.FFmpegVersion, caps.FFmpegPath)
		if caps.FFprobePath != "" {
			fmt.Fprintf(w, "ffprobe:       %s\n", caps.FFprobePath)
		} else {
			fmt.Fprintln(w, "ffprobe:       not found (audio probing disabled)")
		}
		fmt.Fprintf(w, "hw encoders:   %s\n", hw)
		fmt.Fprintf(w, "backend:       %s (%s)\n", caps.Backend, caps.Encoder)
		fmt.Fprintf(w, "frame ready:   %s\n", caps.FrameReady)
		fmt.Fprintf(w, "audio filters: %t\n", caps.AudioFilters)
		return nil
	},
}

func init() {
	capabilitiesCmd.Flags().BoolVar(&capabilitiesJSON, "json", false, "output capabilities as JSON")
	rootCmd.AddCommand(capabilitiesCmd)
}
