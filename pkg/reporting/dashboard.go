/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dashboard.go
Description: HTML session report for the greybox fuzzer. Renders the final statistics,
the coverage progression chart, the corpus and every finding into a single static page.
*/

package reporting

import (
	"encoding/json"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DashboardGenerator renders session reports
type DashboardGenerator struct {
	fs        afero.Fs
	logger    *logrus.Logger
	templates *template.Template
}

// ReportData contains everything shown in a report
type ReportData struct {
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generated_at"`
	SessionID   string          `json:"session_id"`
	Target      string          `json:"target"`
	Mode        interfaces.Mode `json:"mode"`
	InputRange  string          `json:"input_range"`

	Duration      time.Duration `json:"duration"`
	Iterations    int64         `json:"iterations"`
	Executions    int64         `json:"executions"`
	ExecsPerSec   float64       `json:"execs_per_sec"`
	Crashes       int64         `json:"crashes"`
	Timeouts      int64         `json:"timeouts"`
	CoverageEdges int           `json:"coverage_edges"`
	Density       float64       `json:"density"`
	Interrupted   bool          `json:"interrupted"`

	Corpus   []CorpusRow          `json:"corpus"`
	Findings []FindingRow         `json:"findings"`
	Buckets  map[string]int       `json:"buckets"`
	History  []interfaces.Progress `json:"history"`
}

// CorpusRow is one corpus entry in the report
type CorpusRow struct {
	Input       int32   `json:"input"`
	Fitness     float64 `json:"fitness"`
	Edges       int     `json:"edges"`
	Interesting bool    `json:"interesting"`
	Pending     bool    `json:"pending"`
}

// FindingRow is one crash or timeout in the report
type FindingRow struct {
	Input     int32  `json:"input"`
	Iteration int    `json:"iteration"`
	Kind      string `json:"kind"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
}

// ChartConfig contains chart configuration
type ChartConfig struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
	Options interface{} `json:"options"`
}

// NewDashboardGenerator creates a new dashboard generator
func NewDashboardGenerator(fs afero.Fs, logger *logrus.Logger) *DashboardGenerator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DashboardGenerator{
		fs:     fs,
		logger: logger,
		templates: template.Must(template.New("report").Funcs(template.FuncMap{
			"fixed": func(f float64) string { return fmt.Sprintf("%.2f", f) },
			"pct":   func(f float64) string { return fmt.Sprintf("%.3f%%", f*100) },
		}).Parse(reportTemplate)),
	}
}

// CorpusRows converts corpus entries for display, fittest first
func CorpusRows(entries []*corpus.Entry) []CorpusRow {
	rows := make([]CorpusRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, CorpusRow{
			Input:       e.Input,
			Fitness:     e.Fitness,
			Edges:       coverage.CountCovered(e.Coverage),
			Interesting: e.Interesting,
			Pending:     e.NeedsEvaluation,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Fitness > rows[j].Fitness })
	return rows
}

// FindingRows converts findings for display in discovery order
func FindingRows(findings []analysis.Finding) []FindingRow {
	rows := make([]FindingRow, 0, len(findings))
	for _, f := range findings {
		if f.Triage == nil {
			continue
		}
		row := FindingRow{
			Input:     f.Triage.Input,
			Iteration: f.Iteration,
			Kind:      f.Triage.Kind.String(),
			Type:      string(f.Triage.CrashType),
			Severity:  f.Triage.Severity.String(),
			Bucket:    f.Triage.Bucket,
			Path:      f.Path,
		}
		if f.Triage.Kind == execution.Crash {
			row.Kind = fmt.Sprintf("crash (%s)", f.Triage.Signal)
		}
		rows = append(rows, row)
	}
	return rows
}

// GenerateReport writes the report to path, creating its directory
func (dg *DashboardGenerator) GenerateReport(path string, data *ReportData) error {
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}
	if data.Title == "" {
		data.Title = "Greybox Fuzzing Report"
	}

	chart, err := json.Marshal(dg.createCoverageChart(data))
	if err != nil {
		return fmt.Errorf("failed to encode coverage chart: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := dg.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	file, err := dg.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	view := struct {
		*ReportData
		CoverageChart template.JS
	}{data, template.JS(chart)}
	if err := dg.templates.Execute(file, view); err != nil {
		return fmt.Errorf("failed to execute report template: %w", err)
	}

	dg.logger.WithField("path", path).Info("Report generated")
	return nil
}

// createCoverageChart plots covered edges against iterations
func (dg *DashboardGenerator) createCoverageChart(data *ReportData) *ChartConfig {
	labels := make([]int, 0, len(data.History))
	edges := make([]int, 0, len(data.History))
	findings := make([]int64, 0, len(data.History))
	for _, p := range data.History {
		labels = append(labels, p.Iteration)
		edges = append(edges, p.Coverage)
		findings = append(findings, p.Crashes+p.Timeouts)
	}
	return &ChartConfig{
		Type: "line",
		Data: map[string]interface{}{
			"labels": labels,
			"datasets": []map[string]interface{}{
				{
					"label":           "Covered edges",
					"data":            edges,
					"borderColor":     "rgb(75, 192, 192)",
					"backgroundColor": "rgba(75, 192, 192, 0.2)",
				},
				{
					"label":           "Findings",
					"data":            findings,
					"borderColor":     "rgb(255, 99, 132)",
					"backgroundColor": "rgba(255, 99, 132, 0.2)",
				},
			},
		},
		Options: map[string]interface{}{
			"responsive": true,
			"scales": map[string]interface{}{
				"y": map[string]interface{}{"beginAtZero": true},
			},
		},
	}
}

// HistoryRecorder keeps every progress row of a session for the report chart
type HistoryRecorder struct {
	mu      sync.Mutex
	history []interfaces.Progress
}

// NewHistoryRecorder creates an empty recorder
func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{}
}

// OnExecution is a no-op
func (h *HistoryRecorder) OnExecution(int, *execution.Result) {}

// OnNewCoverage is a no-op
func (h *HistoryRecorder) OnNewCoverage(int32, int, int) {}

// OnFinding is a no-op
func (h *HistoryRecorder) OnFinding(*analysis.Finding) {}

// OnProgress stores the row
func (h *HistoryRecorder) OnProgress(p interfaces.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, p)
}

// History returns a copy of the recorded rows
func (h *HistoryRecorder) History() []interfaces.Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]interfaces.Progress(nil), h.history...)
}

var _ interfaces.Reporter = (*HistoryRecorder)(nil)
