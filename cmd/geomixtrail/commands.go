package main

import (
	"fmt"
	"io"
	"strings"

	"geomixtrail/internal/publisher"
	"geomixtrail/internal/render"
	"geomixtrail/internal/track"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImageCmd(a *app) *cobra.Command {
	var (
		output    string
		lineWidth float64
	)
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Render a static PNG, JPEG or SVG image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.profile != nil && a.profile.LineWidth > 0 && !changed(cmd, "linewidth") {
				lineWidth = a.profile.LineWidth
			}
			set, err := a.loadSet(cmd.Context())
			if err != nil {
				return err
			}
			opts, cleanup := a.renderOptions()
			defer cleanup()
			r, err := render.New(set, opts)
			if err != nil {
				return err
			}
			return r.RenderStaticImage(cmd.Context(), output, lineWidth)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "tracks.png", "output file (.png, .jpg, .jpeg or .svg)")
	cmd.Flags().Float64Var(&lineWidth, "linewidth", 4, "line width in pixels")
	return cmd
}

func newVideoCmd(a *app) *cobra.Command {
	var (
		output    string
		lineWidth float64
		fps       float64
		duration  float64
	)
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Render an MP4 video that draws one segment per frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p := a.profile; p != nil {
				if p.LineWidth > 0 && !changed(cmd, "linewidth") {
					lineWidth = p.LineWidth
				}
				if p.FPS > 0 && !changed(cmd, "fps") {
					fps = p.FPS
				}
				if p.Duration > 0 && !changed(cmd, "duration") {
					duration = p.Duration
				}
			}
			set, err := a.loadSet(cmd.Context())
			if err != nil {
				return err
			}
			opts, cleanup := a.renderOptions()
			defer cleanup()

			progress, closeProgress := a.videoProgress()
			defer closeProgress()
			opts.Progress = progress

			r, err := render.New(set, opts)
			if err != nil {
				return err
			}
			return r.RenderVideo(cmd.Context(), output, lineWidth, fps, duration)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "tracks.mp4", "output video file")
	cmd.Flags().Float64Var(&lineWidth, "linewidth", 2, "line width in pixels")
	cmd.Flags().Float64Var(&fps, "fps", 30, "frames per second")
	cmd.Flags().Float64Var(&duration, "duration", 0, "video length in seconds, overrides --fps when > 0")
	return cmd
}

// videoProgress combines the terminal bar and, when NATS_URL is set, progress
// events on NATS_SUBJECT_PREFIX.<run id>.
func (a *app) videoProgress() (render.Progress, func()) {
	var multi render.MultiProgress
	if !a.quiet {
		multi = append(multi, render.NewBarProgress(a.stderr, a.log))
	}
	closeFn := func() {}
	if a.cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(a.cfg.NATSURL, a.cfg.LogNATSSubjects, wrapPublisherMetrics(a.metrics), a.log)
		if err != nil {
			// Events are optional; the render goes on without them.
			a.log.Warn("nats unavailable, progress events disabled", zap.String("url", a.cfg.NATSURL), zap.Error(err))
		} else {
			runID := publisher.NewRunID()
			rep := publisher.NewProgressReporter(pub, a.cfg.NATSSubject, runID, a.log)
			a.log.Info("publishing progress", zap.String("subject", rep.Subject()))
			multi = append(multi, rep)
			closeFn = pub.Close
		}
	}
	return multi, closeFn
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print per-route statistics after decimation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := a.loadSet(cmd.Context())
			if err != nil {
				return err
			}
			writeStats(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func writeStats(w io.Writer, set *track.Set) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Route", "Samples", "Points", "Length km", "First", "Last"})

	var samples, points int
	var length float64
	for _, st := range set.Stats() {
		t.AppendRow(table.Row{
			st.ID,
			st.Samples,
			st.Points,
			fmt.Sprintf("%.2f", st.LengthM/1000),
			st.FirstAt,
			st.LastAt,
		})
		samples += st.Samples
		points += st.Points
		length += st.LengthM
	}
	t.AppendSeparator()
	t.AppendFooter(table.Row{fmt.Sprintf("%d routes", set.Len()), samples, points, fmt.Sprintf("%.2f", length/1000), "", ""})

	b := set.Bounds()
	t.SetCaption("bounds lat %.5f..%.5f lon %.5f..%.5f, min point distance %g m%s",
		b.Min.Lat(), b.Max.Lat(), b.Min.Lon(), b.Max.Lon(), set.MinPointDistance(), categoryNote(set))
	t.SetStyle(table.StyleLight)
	t.Render()
}

func categoryNote(set *track.Set) string {
	if c := set.Category(); c != "" {
		return ", colored by " + strings.TrimSpace(c)
	}
	return ""
}
