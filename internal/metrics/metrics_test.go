package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/simgunz/udp-ip-stack/internal/engine"
)

type staticStats struct {
	stats engine.Stats
}

func (s *staticStats) Stats() engine.Stats {
	return s.stats
}

func gatherValue(t *testing.T, m *Metrics, name string, label string) (float64, bool) {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "direction" && lp.GetValue() == label {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue(), true
			}
			return metric.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestCollectEngineStats(t *testing.T) {
	src := &staticStats{stats: engine.Stats{
		StartedHostToRemote:   3,
		StartedRemoteToHost:   2,
		CompletedHostToRemote: 1,
		Superseded:            1,
		DatagramsSent:         1000,
		DatagramsSpurious:     4,
		ReportsMalformed:      1,
		State:                 engine.StateRemoteToHost,
		LastHostToRemote: &engine.Result{
			Direction:      engine.DirectionHostToRemote,
			ThroughputMBps: 1.4038,
			LossPercent:    -0.2,
		},
	}}
	m := NewMetrics(src)

	checks := []struct {
		name  string
		label string
		want  float64
	}{
		{"udpbench_tests_started_total", "host_to_remote", 3},
		{"udpbench_tests_started_total", "remote_to_host", 2},
		{"udpbench_tests_completed_total", "host_to_remote", 1},
		{"udpbench_tests_superseded_total", "", 1},
		{"udpbench_datagrams_sent_total", "", 1000},
		{"udpbench_datagrams_spurious_total", "", 4},
		{"udpbench_reports_malformed_total", "", 1},
		{"udpbench_last_throughput_mbps", "host_to_remote", 1.4038},
		{"udpbench_last_loss_percent", "host_to_remote", -0.2},
		{"udpbench_session_state", "", 2},
	}
	for _, c := range checks {
		got, ok := gatherValue(t, m, c.name, c.label)
		if !ok {
			t.Fatalf("%s{%s} not exported", c.name, c.label)
		}
		if got != c.want {
			t.Fatalf("%s{%s} = %v, want %v", c.name, c.label, got, c.want)
		}
	}
	if _, ok := gatherValue(t, m, "udpbench_last_loss_percent", "remote_to_host"); ok {
		t.Fatalf("loss exported for a direction without results")
	}
}

func TestSendRate(t *testing.T) {
	src := &staticStats{}
	m := NewMetrics(src)
	src.stats.DatagramsSent = 500
	m.updatePerSecond()
	src.stats.DatagramsSent = 800
	m.updatePerSecond()
	if got, _ := gatherValue(t, m, "udpbench_send_rate_pps", ""); got != 300 {
		t.Fatalf("send rate %v, want 300", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics(&staticStats{})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "udpbench_session_state 0") {
		t.Fatalf("metrics body missing session state:\n%s", body)
	}
}
