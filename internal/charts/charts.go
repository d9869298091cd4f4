// Package charts renders quality reports as interactive HTML pages and
// static PNG plots.
package charts

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"splatgate/internal/analysis"
)

// ErrNoReport is returned when there is nothing to draw.
var ErrNoReport = errors.New("no report to chart")

const (
	pngWidth  = 10 * vg.Inch
	pngHeight = 5 * vg.Inch
)

type series struct {
	name  string
	value func(analysis.FrameMetrics) float64
}

var frameSeries = []series{
	{"brightness", func(m analysis.FrameMetrics) float64 { return m.Brightness }},
	{"sharpness", func(m analysis.FrameMetrics) float64 { return m.Sharpness }},
	{"contrast", func(m analysis.FrameMetrics) float64 { return m.Contrast }},
	{"edge density", func(m analysis.FrameMetrics) float64 { return m.EdgeDensity }},
}

type namedScore struct {
	name  string
	score int
}

func basicScores(b analysis.BasicQuality) []namedScore {
	m := b.Metrics
	return []namedScore{
		{"brightness", m.Brightness.Score},
		{"blur", m.Blur.Score},
		{"frame count", m.FrameCount.Score},
		{"consistency", m.Consistency.Score},
	}
}

func checkScores(s analysis.Suitability) []namedScore {
	c := s.Checks
	return []namedScore{
		{"camera motion", c.CameraMotion.Score},
		{"frame overlap", c.FrameOverlap.Score},
		{"exposure", c.ExposureConsistency.Score},
		{"reflective", c.ReflectiveSurfaces.Score},
		{"staticness", c.SceneStaticness.Score},
		{"features", c.FeatureDensity.Score},
	}
}

// RenderHTML writes a page with the per-frame metric timeline and the basic
// and suitability check scores of r.
func RenderHTML(w io.Writer, r *analysis.QualityReport, title string) error {
	if r == nil {
		return ErrNoReport
	}
	subtitle := fmt.Sprintf("overall %d (%s), threshold %d, confidence %s", r.OverallScore, r.OverallLevel, r.Threshold, r.Confidence)

	page := components.NewPage()
	page.SetPageTitle(title)
	page.AddCharts(
		frameLine(r.FrameMetrics, title, subtitle),
		scoreBar("Basic quality", r.BasicQuality.Score, basicScores(r.BasicQuality)),
		scoreBar("Splatting suitability", r.SplattingSuitability.Score, checkScores(r.SplattingSuitability)),
	)
	return page.Render(w)
}

func frameLine(metrics []analysis.FrameMetrics, title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
	)

	x := make([]string, len(metrics))
	for i, m := range metrics {
		x[i] = fmt.Sprintf("%.1f", m.Timestamp)
	}
	line.SetXAxis(x)
	for _, s := range frameSeries {
		data := make([]opts.LineData, len(metrics))
		for i, m := range metrics {
			data[i] = opts.LineData{Value: s.value(m)}
		}
		line.AddSeries(s.name, data)
	}
	return line
}

func scoreBar(title string, total int, scores []namedScore) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("score %d", total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100}),
	)
	x := make([]string, len(scores))
	y := make([]opts.BarData, len(scores))
	for i, s := range scores {
		x[i] = s.name
		y[i] = opts.BarData{Value: s.score}
	}
	bar.SetXAxis(x).
		AddSeries("score", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// RenderPNG plots the per-frame metrics against time.
func RenderPNG(w io.Writer, metrics []analysis.FrameMetrics, title string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Value"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	if len(metrics) > 0 {
		for i, s := range frameSeries {
			pts := make(plotter.XYs, len(metrics))
			for j, m := range metrics {
				pts[j] = plotter.XY{X: m.Timestamp, Y: s.value(m)}
			}
			l, err := plotter.NewLine(pts)
			if err != nil {
				return fmt.Errorf("%s series: %w", s.name, err)
			}
			l.Color = plotutil.Color(i)
			l.Width = vg.Points(1.5)
			p.Add(l)
			p.Legend.Add(s.name, l)
		}
	} else {
		p.Title.Text += " (no frames)"
	}
	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
