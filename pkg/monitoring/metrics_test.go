/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_test.go
Description: Tests for the Prometheus session reporter.
*/

package monitoring

import (
	"io"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrometheusReporterCounts tests that events move the right metrics
func TestPrometheusReporterCounts(t *testing.T) {
	r := NewPrometheusReporter("test")

	r.OnExecution(1, &execution.Result{Kind: execution.NormalExit, Duration: time.Millisecond})
	r.OnExecution(2, &execution.Result{Kind: execution.Crash, Duration: time.Millisecond})
	r.OnExecution(3, &execution.Result{Kind: execution.Crash, Duration: time.Millisecond})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.executions.WithLabelValues("crash")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("normal_exit")))

	r.OnNewCoverage(5, 3, 17)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.newCoverage))
	assert.Equal(t, 17.0, testutil.ToFloat64(r.coverage))

	tr := analysis.Triage(&execution.Result{Kind: execution.Crash, Signal: syscall.SIGSEGV})
	r.OnFinding(&analysis.Finding{Triage: tr})
	r.OnFinding(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.findings.WithLabelValues("SEGFAULT")))

	r.OnProgress(interfaces.Progress{Iteration: 100, Coverage: 20, CorpusSize: 4})
	assert.Equal(t, 4.0, testutil.ToFloat64(r.corpusSize))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.iteration))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.coverage))
}

// TestPrometheusReporterHandler tests the exposition endpoint
func TestPrometheusReporterHandler(t *testing.T) {
	r := NewPrometheusReporter("handler")
	r.OnProgress(interfaces.Progress{CorpusSize: 9})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `akaylee_greybox_corpus_size{session="handler"} 9`)
}

// TestSeparateRegistries tests that two reporters can coexist
func TestSeparateRegistries(t *testing.T) {
	a := NewPrometheusReporter("a")
	b := NewPrometheusReporter("b")
	a.OnNewCoverage(1, 1, 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.newCoverage))
	assert.NotSame(t, a.Registry(), b.Registry())
}
