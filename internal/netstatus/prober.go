package netstatus

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	appLog "famcal/internal/log"
)

// DefaultProbeSchedule is used when the configured schedule is empty.
const DefaultProbeSchedule = "@every 30s"

// Prober derives connectivity from whether the remote endpoint answers.
// Any HTTP response counts as online; transport errors count as offline.
type Prober struct {
	url     string
	monitor *Monitor
	client  *http.Client
	cron    *cron.Cron
}

// NewProber probes baseURL + "/health".
func NewProber(baseURL string, monitor *Monitor, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		url:     strings.TrimRight(baseURL, "/") + "/health",
		monitor: monitor,
		client:  &http.Client{Timeout: timeout},
	}
}

// Probe runs one check and updates the monitor. It returns the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		appLog.Error("probe: build request failed", err)
		p.monitor.Set(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		appLog.Debug("probe failed", "err", err.Error())
		p.monitor.Set(false)
		return false
	}
	resp.Body.Close()
	p.monitor.Set(true)
	return true
}

// Start probes once immediately, then on schedule (cron syntax or
// "@every <duration>").
func (p *Prober) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultProbeSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { p.Probe(ctx) }); err != nil {
		return err
	}
	p.Probe(ctx)
	p.cron = c
	c.Start()
	appLog.Info("connectivity prober started", "schedule", schedule)
	return nil
}

// Stop halts scheduling and waits for a running probe.
func (p *Prober) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
}
