// Package metrics exposes the testbench's live state as Prometheus
// metrics: per-link impairment values, scheduler transitions, dispatcher
// weights and selections, and the adaptive bitrate target. This is a
// producer-side registry served over HTTP, scraped by whatever collects
// the experiment's numbers.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Producer owns the testbench's metric registry and its HTTP listener.
type Producer struct {
	registry *prometheus.Registry
	server   *http.Server

	linkRateBps          *prometheus.GaugeVec
	linkLossPct          *prometheus.GaugeVec
	linkDelayMs          *prometheus.GaugeVec
	linkOUStateBps       *prometheus.GaugeVec
	linkGEState          *prometheus.GaugeVec
	schedulerTransitions *prometheus.CounterVec
	dispatcherWeight     *prometheus.GaugeVec
	dispatcherSelected   *prometheus.CounterVec
	bitrateKbps          prometheus.Gauge
	activeLinks          prometheus.Gauge
}

// New creates a Producer with every testbench metric registered on a
// fresh registry (not the global default, so parallel test runs don't
// collide on duplicate registration).
func New() *Producer {
	p := &Producer{
		registry: prometheus.NewRegistry(),

		linkRateBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_link_rate_bps_current",
			Help: "Currently applied rate limit in bits/s for a link direction.",
		}, []string{"link", "direction"}),

		linkLossPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_link_loss_pct_current",
			Help: "Currently applied loss fraction [0,1] for a link direction.",
		}, []string{"link", "direction"}),

		linkDelayMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_link_delay_ms_current",
			Help: "Currently applied base delay in milliseconds for a link direction.",
		}, []string{"link", "direction"}),

		linkOUStateBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_link_ou_state",
			Help: "Current Ornstein-Uhlenbeck throughput output in bits/s.",
		}, []string{"link", "direction"}),

		linkGEState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_link_ge_state",
			Help: "Current Gilbert-Elliott state (0 = good, 1 = bad).",
		}, []string{"link", "direction"}),

		schedulerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netbench_scheduler_transitions_total",
			Help: "Schedule transitions applied per link direction.",
		}, []string{"link", "direction"}),

		dispatcherWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netbench_dispatcher_effective_weight",
			Help: "Effective post-normalization dispatcher weight per output link.",
		}, []string{"link_index"}),

		dispatcherSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netbench_dispatcher_selected_total",
			Help: "Packets routed per output link.",
		}, []string{"link_index"}),

		bitrateKbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netbench_bitrate_kbps_current",
			Help: "Current adaptive bitrate controller target in kbps.",
		}),

		activeLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netbench_active_links",
			Help: "Number of links currently provisioned.",
		}),
	}

	p.registry.MustRegister(
		p.linkRateBps,
		p.linkLossPct,
		p.linkDelayMs,
		p.linkOUStateBps,
		p.linkGEState,
		p.schedulerTransitions,
		p.dispatcherWeight,
		p.dispatcherSelected,
		p.bitrateKbps,
		p.activeLinks,
	)

	return p
}

// Serve starts the metrics HTTP listener on addr. It returns immediately;
// listener errors other than a clean shutdown are reported through errCh
// if non-nil.
func (p *Producer) Serve(addr string, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))

	p.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		err := p.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed && errCh != nil {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
}

// Shutdown stops the metrics HTTP listener, waiting up to 2s for
// in-flight scrapes.
func (p *Producer) Shutdown() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.server.Shutdown(ctx)
}

// Handler returns the registry's HTTP handler for embedding in an
// existing server instead of calling Serve.
func (p *Producer) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// SetLinkSpec records the impairment values just applied to one link
// direction.
func (p *Producer) SetLinkSpec(link, direction string, rateKbps, lossPct, delayMs float64) {
	p.linkRateBps.WithLabelValues(link, direction).Set(rateKbps * 1000)
	p.linkLossPct.WithLabelValues(link, direction).Set(lossPct)
	p.linkDelayMs.WithLabelValues(link, direction).Set(delayMs)
}

// SetOUState records an OU controller's current output.
func (p *Producer) SetOUState(link, direction string, bps float64) {
	p.linkOUStateBps.WithLabelValues(link, direction).Set(bps)
}

// SetGEState records a GE controller's current state (0 good, 1 bad).
func (p *Producer) SetGEState(link, direction string, bad bool) {
	v := 0.0
	if bad {
		v = 1.0
	}
	p.linkGEState.WithLabelValues(link, direction).Set(v)
}

// IncTransitions counts one schedule transition on a link direction.
func (p *Producer) IncTransitions(link, direction string) {
	p.schedulerTransitions.WithLabelValues(link, direction).Inc()
}

// SetDispatcherWeights records the dispatcher's effective weights.
func (p *Producer) SetDispatcherWeights(weights []float64) {
	for i, w := range weights {
		p.dispatcherWeight.WithLabelValues(fmt.Sprintf("%d", i)).Set(w)
	}
}

// IncSelected counts one packet routed to an output link.
func (p *Producer) IncSelected(linkIndex int) {
	p.dispatcherSelected.WithLabelValues(fmt.Sprintf("%d", linkIndex)).Inc()
}

// SetBitrate records the adaptive bitrate controller's current target.
func (p *Producer) SetBitrate(kbps float64) {
	p.bitrateKbps.Set(kbps)
}

// SetActiveLinks records the number of provisioned links.
func (p *Producer) SetActiveLinks(n int) {
	p.activeLinks.Set(float64(n))
}
