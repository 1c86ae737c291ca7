package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/export"
	"github.com/jmylchreest/clipforge/internal/models"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/progress"
	"github.com/jmylchreest/clipforge/internal/storage"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// progressSteps is the resolution of the terminal progress bar.
const progressSteps = 1000

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render a timeline to an MP4 file",
	Long: `Render the timeline described by a JSON or YAML request file to MP4.

Relative asset paths in the request resolve against the request file's
directory. Press Ctrl-C to cancel; a cancelled or failed export leaves no
output file behind.

  clipforge export -i timeline.json -o out.mp4
  clipforge export -i timeline.yaml -o out.mp4 --backend software --quality high`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("input", "i", "", "export request file (.json, .yaml or .yml)")
	exportCmd.Flags().StringP("output", "o", "", "output MP4 path")
	exportCmd.Flags().String("backend", "", "encoder backend (auto, software, hardware); overrides export.backend")
	exportCmd.Flags().String("quality", "", "quality tier (high, medium, low); overrides the request")
	exportCmd.Flags().Bool("no-progress", false, "do not draw a progress bar")
	_ = exportCmd.MarkFlagRequired("input")
	_ = exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := slog.Default()

	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	backendName := cfg.Export.Backend
	if cmd.Flags().Changed("backend") {
		backendName, _ = cmd.Flags().GetString("backend")
	}
	mode, err := encoder.ParseMode(backendName)
	if err != nil {
		return err
	}

	req, err := timeline.DecodeFile(input, timeline.DecodeOptions{
		DefaultQuality: timeline.Quality(cfg.Export.Quality),
	})
	if err != nil {
		return fmt.Errorf("reading %s: %w", input, err)
	}
	if cmd.Flags().Changed("quality") {
		q, _ := cmd.Flags().GetString("quality")
		if !timeline.Quality(q).Valid() {
			return fmt.Errorf("invalid --quality %q (want high, medium or low)", q)
		}
		req.Quality = timeline.Quality(q)
	}
	if req.Width > cfg.Export.MaxWidth || req.Height > cfg.Export.MaxHeight {
		return fmt.Errorf("export size %dx%d exceeds the configured maximum of %dx%d",
			req.Width, req.Height, cfg.Export.MaxWidth, cfg.Export.MaxHeight)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, mode, filepath.Dir(input), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	id := models.NewULID().String()
	job := export.NewJob(id, req, p.deps, jobOptions(cfg, mode))
	observability.WithJobID(logger, id).Info("export started",
		slog.String("input", input),
		slog.Int("width", req.Width),
		slog.Int("height", req.Height),
		slog.Float64("fps", req.FPS),
		slog.Float64("duration", req.Duration),
		slog.String("quality", string(req.Quality)),
	)

	bar := newProgressBar(cmd.ErrOrStderr(), !noProgress)
	res, err := job.Run(ctx, progress.Func(func(v float64) {
		_ = bar.Set(int(v * progressSteps))
	}))
	if err != nil {
		_ = bar.Exit()
		return reportExportError(cmd.ErrOrStderr(), err)
	}
	_ = bar.Finish()

	if err := writeOutput(output, res.Data); err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), output, res)
	return nil
}

func newProgressBar(w io.Writer, visible bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetDescription("Exporting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// reportExportError prints the failure kind and any encoder diagnostics.
func reportExportError(w io.Writer, err error) error {
	if errors.Is(err, export.ErrCancelled) {
		fmt.Fprintln(w, "\nExport cancelled; no output was written.")
		return err
	}

	fmt.Fprintf(w, "\nExport failed (%s): %v\n", export.Kind(err), err)
	if tail := export.LogTail(err); len(tail) > 0 {
		fmt.Fprintln(w, "Encoder output:")
		for _, line := range tail {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return err
}

// writeOutput publishes data at path atomically so a partial file is never
// visible.
func writeOutput(path string, data []byte) error {
	dir, err := storage.NewSandbox(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}
	if err := dir.AtomicWriteReader(filepath.Base(path), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printSummary(w io.Writer, path string, res *export.Result) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Wrote %s (%s)\n", path, humanize.IBytes(uint64(len(res.Data))))
	p.Fprintf(w, "  frames:  %d\n", res.Frames)
	p.Fprintf(w, "  backend: %s\n", res.Backend)
	p.Fprintf(w, "  audio:   %d clip(s)\n", res.AudioClips)
	p.Fprintf(w, "  elapsed: %s\n", res.Elapsed.Round(10*time.Millisecond))
	for _, skipped := range res.SkippedAudio {
		p.Fprintf(w, "  skipped audio: %v\n", skipped)
	}
}
