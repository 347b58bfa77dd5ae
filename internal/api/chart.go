package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/harshv834/auv/internal/db"
)

// echartsAssetsPrefix is loaded by the browser viewing the chart.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// showRunChart renders the heading error and centring offsets of a run, one
// point per recorded poll tick.
func (s *Server) showRunChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireRunLog(w) {
		return
	}
	runID := r.PathValue("id")
	run, ok := s.lookupRun(w, runID)
	if !ok {
		return
	}
	samples, err := s.runs.Samples(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := renderRunChart(&buf, run, samples); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func renderRunChart(buf *bytes.Buffer, run db.Run, samples []db.Sample) error {
	xs := make([]string, len(samples))
	heading := make([]opts.LineData, len(samples))
	offX := make([]opts.LineData, len(samples))
	offY := make([]opts.LineData, len(samples))
	t0 := run.Started
	for i, s := range samples {
		xs[i] = strconv.FormatFloat(s.At.Sub(t0).Seconds(), 'f', 2, 64)
		heading[i] = optionalPoint(s.HeadingKnown, s.HeadingError, s.Phase)
		offX[i] = optionalPoint(s.OffsetKnown, s.OffsetX, s.Phase)
		offY[i] = optionalPoint(s.OffsetKnown, s.OffsetY, s.Phase)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Line run " + run.RunID, Width: "1100px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Run " + run.RunID, Subtitle: fmt.Sprintf("phase=%s ticks=%d align_attempts=%d", run.Phase, len(samples), run.AlignAttempts)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "heading error (deg)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs).
		AddSeries("heading error", heading).
		AddSeries("offset x", offX).
		AddSeries("offset y", offY)
	return line.Render(buf)
}

// optionalPoint leaves a gap where the value was not yet known.
func optionalPoint(known bool, v float64, phase string) opts.LineData {
	if !known {
		return opts.LineData{Value: "-", Name: phase}
	}
	return opts.LineData{Value: v, Name: phase}
}
