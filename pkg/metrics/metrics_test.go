package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProducerExposesMetrics(t *testing.T) {
	p := New()

	p.SetLinkSpec("primary", "a_to_b", 2000, 0.01, 40)
	p.SetOUState("primary", "a_to_b", 1_500_000)
	p.SetGEState("primary", "a_to_b", true)
	p.IncTransitions("primary", "a_to_b")
	p.SetDispatcherWeights([]float64{0.6, 0.4})
	p.IncSelected(0)
	p.SetBitrate(4500)
	p.SetActiveLinks(2)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)

	for _, want := range []string{
		`netbench_link_rate_bps_current{direction="a_to_b",link="primary"} 2e+06`,
		`netbench_link_ge_state{direction="a_to_b",link="primary"} 1`,
		`netbench_scheduler_transitions_total{direction="a_to_b",link="primary"} 1`,
		`netbench_dispatcher_effective_weight{link_index="0"} 0.6`,
		`netbench_bitrate_kbps_current 4500`,
		`netbench_active_links 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestGEStateGoodIsZero(t *testing.T) {
	p := New()
	p.SetGEState("l", "a_to_b", false)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `netbench_link_ge_state{direction="a_to_b",link="l"} 0`) {
		t.Fatal("good state not exported as 0")
	}
}
