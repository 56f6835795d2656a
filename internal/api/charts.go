package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// severityBuckets is the histogram resolution for /charts/severity.
// Severity is normalized to [0, 1], so ten buckets of 0.1 each.
const severityBuckets = 10

// renderChart writes a rendered chart page or a JSON error.
func (s *Server) renderChart(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// chartTypes renders a bar chart of edge case counts per type.
func (s *Server) chartTypes(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get stats: %v", err))
		return
	}

	names := make([]string, 0, len(sum.TypeCounts))
	for name := range sum.TypeCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	y := make([]opts.BarData, 0, len(names))
	for _, name := range names {
		y = append(y, opts.BarData{Value: sum.TypeCounts[name]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Edge Cases by Type", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Edge Cases by Type", Subtitle: fmt.Sprintf("%d edge cases over %d frames", sum.TotalEdgeCases, sum.TotalFrames)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("edge cases", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	s.renderChart(w, bar.Render)
}

// chartSeverity renders a histogram of stored severity scores.
func (s *Server) chartSeverity(w http.ResponseWriter, r *http.Request) {
	severities, err := s.store.Severities()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get severities: %v", err))
		return
	}

	counts := make([]int, severityBuckets)
	for _, v := range severities {
		bucket := int(v * severityBuckets)
		if bucket < 0 {
			bucket = 0
		}
		if bucket >= severityBuckets {
			bucket = severityBuckets - 1
		}
		counts[bucket]++
	}

	labels := make([]string, severityBuckets)
	y := make([]opts.BarData, severityBuckets)
	for i := 0; i < severityBuckets; i++ {
		labels[i] = fmt.Sprintf("%.1f-%.1f", float64(i)/severityBuckets, float64(i+1)/severityBuckets)
		y[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Severity Distribution", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Severity Distribution", Subtitle: fmt.Sprintf("%d edge cases", len(severities))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("edge cases", y)

	s.renderChart(w, bar.Render)
}

// chartIntents renders a pie chart of frame counts per driving intent.
func (s *Server) chartIntents(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get stats: %v", err))
		return
	}

	names := make([]string, 0, len(sum.IntentCounts))
	for name := range sum.IntentCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]opts.PieData, 0, len(names))
	for _, name := range names {
		data = append(data, opts.PieData{Name: name, Value: sum.IntentCounts[name]})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frames by Intent", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frames by Intent", Subtitle: fmt.Sprintf("%d frames", sum.TotalFrames)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	pie.AddSeries("intents", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	)

	s.renderChart(w, pie.Render)
}
