package render

import (
	"fmt"
	"image/color"
	"io"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// Plot dimensions for DwellPlotPNG.
const (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 5 * vg.Inch
)

// DwellPlotPNG writes a PNG bar plot of max dwell per identity with a
// horizontal threshold line.
func DwellPlotPNG(w io.Writer, r *loiter.Report) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (threshold %.1fs)", r.Assessment, r.ThresholdSec)
	p.X.Label.Text = "Object"
	p.Y.Label.Text = "Max dwell (s)"
	p.Y.Min = 0

	names := make([]string, 0, len(r.Entries))
	alert := make(plotter.Values, len(r.Entries))
	normal := make(plotter.Values, len(r.Entries))
	maxY := r.ThresholdSec
	for i, e := range r.Entries {
		names = append(names, "#"+strconv.FormatInt(e.ObjectID, 10))
		if e.Status == loiter.StatusAlert {
			alert[i] = e.MaxLoiterTime
		} else {
			normal[i] = e.MaxLoiterTime
		}
		if e.MaxLoiterTime > maxY {
			maxY = e.MaxLoiterTime
		}
	}

	if len(r.Entries) > 0 {
		barWidth := vg.Points(18)
		normalBars, err := plotter.NewBarChart(normal, barWidth)
		if err != nil {
			return fmt.Errorf("normal bars: %w", err)
		}
		normalBars.Color = color.RGBA{R: 91, G: 141, B: 239, A: 255}
		normalBars.LineStyle.Width = 0

		alertBars, err := plotter.NewBarChart(alert, barWidth)
		if err != nil {
			return fmt.Errorf("alert bars: %w", err)
		}
		alertBars.Color = color.RGBA{R: 217, G: 83, B: 79, A: 255}
		alertBars.LineStyle.Width = 0

		p.Add(normalBars, alertBars)
		p.Legend.Add("Normal", normalBars)
		p.Legend.Add("ALERT", alertBars)
		p.NominalX(names...)
	}

	threshold := plotter.NewFunction(func(float64) float64 { return r.ThresholdSec })
	threshold.Color = color.RGBA{A: 255}
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	threshold.Width = vg.Points(1)
	p.Add(threshold)
	p.Legend.Add("threshold", threshold)
	p.Legend.Top = true

	p.Y.Max = maxY * 1.15
	if p.Y.Max == 0 {
		p.Y.Max = 1
	}
	if len(r.Entries) == 0 {
		p.X.Min, p.X.Max = 0, 1
	}

	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
