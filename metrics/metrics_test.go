package metrics_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/pvgo/metrics"
)

func TestPrometheusMetricsAreExposed(t *testing.T) {
	metrics.TickDurationHistogram.Reset()
	metrics.TickDurationHistogram.WithLabelValues("transfer").Observe(0.002)
	metrics.TransferRateHistogram.Observe(1024)
	metrics.BufferOccupancyGauge.Set(0.5)
	metrics.ErrorCount.WithLabelValues("open_failed").Inc()
	metrics.FilesCompletedCount.Inc()
	metrics.SpliceFallbackCount.Inc()
	metrics.RemoteReconfigureCount.Inc()

	addr := ":19091"
	promSrv := prometheusx.MustStartPrometheus(addr)
	defer promSrv.Shutdown(context.Background())
	time.Sleep(10 * time.Millisecond)

	resp, err := http.Get("http://localhost" + addr + "/metrics")
	if err != nil {
		t.Fatalf("could not GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read metrics body: %v", err)
	}

	for _, name := range []string{
		"pv_tick_duration_seconds",
		"pv_transfer_rate_bytes_per_second",
		"pv_buffer_occupancy_ratio",
		"pv_error_total",
		"pv_files_completed_total",
		"pv_splice_fallback_total",
		"pv_remote_reconfigure_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s to appear in /metrics output", name)
		}
	}
}
