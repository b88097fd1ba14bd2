package scheduler

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/match"
)

// LoopState is one loop's externally visible state.
type LoopState struct {
	Running   bool      `json:"running"`
	Runs      int64     `json:"runs"`
	Errors    int64     `json:"errors"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// CycleResult summarizes one discovery cycle.
type CycleResult struct {
	StartedAt      time.Time         `json:"started_at"`
	DurationMS     int64             `json:"duration_ms"`
	PolyListed     int               `json:"poly_listed"`
	KalshiListed   int               `json:"kalshi_listed"`
	MarketsRemoved int               `json:"markets_removed"`
	Embedded       int               `json:"embedded"`
	NewMatches     int               `json:"new_matches"`
	Archived       int64             `json:"archived"`
	Engine         match.EngineStats `json:"engine"`
	Errors         []string          `json:"errors,omitempty"`
}

// ScanStatus is the full scanner state served by the status endpoint.
type ScanStatus struct {
	Discovery             LoopState    `json:"discovery"`
	Refresh               LoopState    `json:"refresh"`
	PolyStreamConnected   bool         `json:"poly_stream_connected"`
	KalshiStreamConnected bool         `json:"kalshi_stream_connected"`
	PolySubscriptions     int          `json:"poly_subscriptions"`
	KalshiSubscriptions   int          `json:"kalshi_subscriptions"`
	LastCycle             *CycleResult `json:"last_cycle,omitempty"`
}

// statusTracker aggregates loop state under its own lock so status reads
// never contend with a running cycle.
type statusTracker struct {
	mu        sync.Mutex
	discovery LoopState
	refresh   LoopState
	lastCycle *CycleResult
}

func (t *statusTracker) setDiscoveryRunning(running bool) {
	t.mu.Lock()
	t.discovery.Running = running
	t.mu.Unlock()
}

func (t *statusTracker) setRefreshRunning(running bool) {
	t.mu.Lock()
	t.refresh.Running = running
	t.mu.Unlock()
}

func (t *statusTracker) recordDiscovery(res *CycleResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discovery.Runs++
	t.discovery.LastRun = res.StartedAt
	if len(res.Errors) > 0 {
		t.discovery.Errors++
		t.discovery.LastError = res.Errors[len(res.Errors)-1]
	}
	t.lastCycle = res
}

func (t *statusTracker) recordRefresh(at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresh.Runs++
	t.refresh.LastRun = at
	if err != nil {
		t.refresh.Errors++
		t.refresh.LastError = err.Error()
	}
}

func (t *statusTracker) snapshot() (LoopState, LoopState, *CycleResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last *CycleResult
	if t.lastCycle != nil {
		cp := *t.lastCycle
		last = &cp
	}
	return t.discovery, t.refresh, last
}
