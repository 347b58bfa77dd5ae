// Package report summarises recorded runs and renders their traces.
package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/harshv834/auv/internal/db"
)

// PhaseStats describes the heading error seen during one phase. Only ticks
// with a known heading contribute to the statistics.
type PhaseStats struct {
	Phase       string  `json:"phase"`
	Ticks       int     `json:"ticks"`
	HeadingN    int     `json:"heading_samples"`
	MeanAbs     float64 `json:"mean_abs_heading_error"`
	StdDev      float64 `json:"stddev_heading_error"`
	MaxAbs      float64 `json:"max_abs_heading_error"`
	P90Abs      float64 `json:"p90_abs_heading_error"`
	FinalOffset float64 `json:"final_offset,omitempty"`
}

type Summary struct {
	Ticks    int          `json:"ticks"`
	Duration float64      `json:"duration_s"`
	Phases   []PhaseStats `json:"phases"`
}

// Summarize groups samples by phase in the order phases were first seen.
func Summarize(samples []db.Sample) Summary {
	var sum Summary
	if len(samples) == 0 {
		return sum
	}
	sum.Ticks = len(samples)
	sum.Duration = samples[len(samples)-1].At.Sub(samples[0].At).Seconds()

	var order []string
	byPhase := map[string][]db.Sample{}
	for _, s := range samples {
		if _, ok := byPhase[s.Phase]; !ok {
			order = append(order, s.Phase)
		}
		byPhase[s.Phase] = append(byPhase[s.Phase], s)
	}
	for _, phase := range order {
		sum.Phases = append(sum.Phases, phaseStats(phase, byPhase[phase]))
	}
	return sum
}

func phaseStats(phase string, samples []db.Sample) PhaseStats {
	ps := PhaseStats{Phase: phase, Ticks: len(samples)}
	var signed, abs []float64
	for _, s := range samples {
		if s.HeadingKnown {
			signed = append(signed, s.HeadingError)
			abs = append(abs, math.Abs(s.HeadingError))
		}
	}
	if last := samples[len(samples)-1]; last.OffsetKnown {
		ps.FinalOffset = math.Hypot(last.OffsetX, last.OffsetY)
	}
	ps.HeadingN = len(abs)
	if len(abs) == 0 {
		return ps
	}
	ps.MeanAbs = stat.Mean(abs, nil)
	if len(signed) > 1 {
		ps.StdDev = stat.StdDev(signed, nil)
	}
	ps.MaxAbs = floats.Max(abs)
	sort.Float64s(abs)
	ps.P90Abs = stat.Quantile(0.9, stat.Empirical, abs, nil)
	return ps
}

// WriteText prints a summary table.
func (s Summary) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d ticks over %.2fs\n", s.Ticks, s.Duration); err != nil {
		return err
	}
	fmt.Fprintf(w, "%-10s %6s %8s %8s %8s %8s\n", "phase", "ticks", "mean|e|", "sd(e)", "max|e|", "p90|e|")
	for _, p := range s.Phases {
		fmt.Fprintf(w, "%-10s %6d %8.2f %8.2f %8.2f %8.2f\n", p.Phase, p.Ticks, p.MeanAbs, p.StdDev, p.MaxAbs, p.P90Abs)
	}
	return nil
}

var phaseColors = map[string]color.Color{
	"SEARCHING": color.RGBA{R: 0x44, G: 0x77, B: 0xaa, A: 0xff},
	"CENTERING": color.RGBA{R: 0x22, G: 0x88, B: 0x33, A: 0xff},
	"ALIGNING":  color.RGBA{R: 0xcc, G: 0x66, B: 0x11, A: 0xff},
}

// PlotHeading writes a PNG of the heading error and centring offset over the
// run, one line segment per phase.
func PlotHeading(samples []db.Sample, title, path string) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples to plot")
	}
	t0 := samples[0].At

	pHeading := plot.New()
	pHeading.Title.Text = title
	pHeading.X.Label.Text = "t (s)"
	pHeading.Y.Label.Text = "Heading error (deg)"

	pOffset := plot.New()
	pOffset.Title.Text = title
	pOffset.X.Label.Text = "t (s)"
	pOffset.Y.Label.Text = "Centring offset"

	// Contiguous runs of the same phase become one line each.
	start := 0
	for i := 1; i <= len(samples); i++ {
		if i < len(samples) && samples[i].Phase == samples[start].Phase {
			continue
		}
		seg := samples[start:i]
		phase := seg[0].Phase
		c, ok := phaseColors[phase]
		if !ok {
			c = color.Black
		}
		heading := make(plotter.XYs, 0, len(seg))
		offset := make(plotter.XYs, 0, len(seg))
		for _, s := range seg {
			x := s.At.Sub(t0).Seconds()
			if s.HeadingKnown {
				heading = append(heading, plotter.XY{X: x, Y: s.HeadingError})
			}
			if s.OffsetKnown {
				offset = append(offset, plotter.XY{X: x, Y: math.Hypot(s.OffsetX, s.OffsetY)})
			}
		}
		if err := addLine(pHeading, heading, phase, c); err != nil {
			return err
		}
		if err := addLine(pOffset, offset, phase, c); err != nil {
			return err
		}
		start = i
	}

	for _, p := range []*plot.Plot{pHeading, pOffset} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	return saveStacked([]*plot.Plot{pHeading, pOffset}, 14*vg.Inch, 5*vg.Inch, path)
}

// saveStacked draws plots in one column with aligned axes.
func saveStacked(plots []*plot.Plot, width, rowHeight vg.Length, path string) error {
	rows := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		rows[i] = []*plot.Plot{p}
	}
	img := vgimg.New(width, rowHeight*vg.Length(len(plots)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 2 * vg.Millimeter,
	}
	canvases := plot.Align(rows, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}
