package render

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// EchartsAssetsHost serves the echarts JavaScript bundle.
var EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

const (
	alertColor  = "#d9534f"
	normalColor = "#5b8def"
)

// DwellChartHTML renders a bar chart of max dwell per identity with the
// loitering threshold drawn as a mark line.
func DwellChartHTML(r *loiter.Report) ([]byte, error) {
	x := make([]string, 0, len(r.Entries))
	y := make([]opts.BarData, 0, len(r.Entries))
	for _, e := range r.Entries {
		color := normalColor
		if e.Status == loiter.StatusAlert {
			color = alertColor
		}
		x = append(x, "#"+strconv.FormatInt(e.ObjectID, 10))
		y = append(y, opts.BarData{
			Name:      e.Status,
			Value:     e.MaxLoiterTime,
			ItemStyle: &opts.ItemStyle{Color: color},
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  "Loitering report",
			Width:      "100%",
			Height:     "600px",
			AssetsHost: EchartsAssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    r.Assessment,
			Subtitle: fmt.Sprintf("session=%s source=%s threshold=%.1fs", r.SessionID, r.Source, r.ThresholdSec),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Object", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Max dwell (s)", NameLocation: "middle", NameGap: 35}),
	)
	bar.SetXAxis(x).
		AddSeries("max_loiter_time", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "threshold", YAxis: r.ThresholdSec}),
		)

	page := components.NewPage()
	page.PageTitle = "Loitering report"
	page.SetAssetsHost(EchartsAssetsHost)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render dwell chart: %w", err)
	}
	return buf.Bytes(), nil
}
