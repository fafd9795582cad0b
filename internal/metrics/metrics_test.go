package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"blockyard/internal/domain"
)

func TestRegisterIdempotentAndCollectorsWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	m.RecordTransition(domain.StateStopped, domain.StateStarting)
	m.RecordTransition(domain.StateStarting, domain.StateRunning)
	m.ObserveResources(domain.Resources{CPUPercent: 12.5, RSSBytes: 1 << 30, DiskBytes: 1 << 20})
	m.SetPlayers(3)
	m.SetTPS(19.9)
	m.IncLogLine(domain.SeverityWarn)
	m.ObserveStart(14.2)
	m.IncInstall("installed")
	m.ObserveSource("hangar", "search", 0.2, errors.New("timeout"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"blockyard_server_state":                      false,
		"blockyard_server_state_transitions_total":    false,
		"blockyard_server_cpu_percent":                false,
		"blockyard_server_memory_rss_bytes":           false,
		"blockyard_server_players_online":             false,
		"blockyard_server_log_lines_total":            false,
		"blockyard_plugins_installs_total":            false,
		"blockyard_registry_source_failures_total":    false,
		"blockyard_registry_request_duration_seconds": false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		if mf.GetName() == "blockyard_server_state" {
			for _, metric := range mf.GetMetric() {
				state := metric.GetLabel()[0].GetValue()
				v := metric.GetGauge().GetValue()
				if (state == string(domain.StateRunning)) != (v == 1) {
					t.Errorf("state %s = %v", state, v)
				}
			}
		}
	}
	for name, ok := range want {
		if !ok {
			t.Errorf("expected metric %s", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTransition(domain.StateStopped, domain.StateStarting)
	m.ObserveResources(domain.Resources{})
	m.SetPlayers(1)
	m.SetTPS(20)
	m.IncLogLine(domain.SeverityInfo)
	m.ObserveStart(1)
	m.IncInstall("failed")
	m.ObserveSource("modrinth", "search", 1, nil)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}
	m.SetPlayers(7)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "blockyard_server_players_online 7") {
		t.Errorf("players gauge not exported:\n%s", body)
	}
}
