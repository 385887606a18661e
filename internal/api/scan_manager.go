package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalogwatch/pkg/types"
)

// ErrMaxConcurrency signals that the scan concurrency limit has been reached.
var ErrMaxConcurrency = errors.New("maximum concurrent scans reached")

// ScanRunner executes one scan. *catalog.Engine satisfies it.
type ScanRunner interface {
	Scan(ctx context.Context, retailer, category string, scanType types.ScanType, entries []types.CatalogEntry) (*types.ScanReport, error)
}

// ScanManager coordinates scan lifecycles keyed by scan identifier. Finished
// scans stay listable until the process exits; the persistent record lives in
// the snapshot log, not here.
type ScanManager struct {
	mu             sync.RWMutex
	scans          map[string]*scanRun
	engine         ScanRunner
	logger         *slog.Logger
	maxConcurrency int
	running        int
	rootCtx        context.Context
}

// NewScanManager constructs a manager over the engine.
func NewScanManager(engine ScanRunner, maxConcurrency int, rootCtx context.Context, logger *slog.Logger) *ScanManager {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanManager{
		scans:          make(map[string]*scanRun),
		engine:         engine,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		rootCtx:        rootCtx,
	}
}

// StartScan validates the request and launches the scan asynchronously.
func (m *ScanManager) StartScan(req ScanRequest) (ScanSummary, error) {
	retailer := strings.TrimSpace(req.Retailer)
	if retailer == "" {
		return ScanSummary{}, fmt.Errorf("retailer is required")
	}
	if len(req.Entries) == 0 {
		return ScanSummary{}, fmt.Errorf("entries must include at least one catalog entry")
	}
	scanType := req.ScanType
	switch scanType {
	case "":
		scanType = types.ScanTypeMonitor
	case types.ScanTypeBaseline, types.ScanTypeMonitor:
	default:
		return ScanSummary{}, fmt.Errorf("unsupported scan_type %q", req.ScanType)
	}

	run := &scanRun{
		id:        uuid.NewString(),
		retailer:  retailer,
		category:  strings.TrimSpace(req.Category),
		scanType:  scanType,
		entries:   len(req.Entries),
		status:    ScanStatusPending,
		createdAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if m.running >= m.maxConcurrency {
		m.mu.Unlock()
		return ScanSummary{}, ErrMaxConcurrency
	}
	m.running++
	m.scans[run.id] = run
	m.mu.Unlock()

	run.start(m, req.Entries)
	return run.Snapshot(), nil
}

// ListScans captures current summaries, newest first.
func (m *ScanManager) ListScans() []ScanSummary {
	m.mu.RLock()
	summaries := make([]ScanSummary, 0, len(m.scans))
	for _, run := range m.scans {
		summaries = append(summaries, run.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries
}

// GetScan returns the detail for one scan, including the report once done.
func (m *ScanManager) GetScan(id string) (ScanDetail, bool) {
	m.mu.RLock()
	run, ok := m.scans[strings.TrimSpace(id)]
	m.mu.RUnlock()
	if !ok {
		return ScanDetail{}, false
	}
	return run.Detail(), true
}

// CancelScan requests cancellation of a running scan.
func (m *ScanManager) CancelScan(id string) error {
	m.mu.RLock()
	run, ok := m.scans[strings.TrimSpace(id)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scan %q not found", id)
	}
	if !run.Cancel() {
		return fmt.Errorf("scan %q not running", id)
	}
	return nil
}

// Shutdown cancels all active scans.
func (m *ScanManager) Shutdown() {
	m.mu.RLock()
	active := make([]*scanRun, 0, len(m.scans))
	for _, run := range m.scans {
		active = append(active, run)
	}
	m.mu.RUnlock()
	for _, run := range active {
		run.Cancel()
	}
}

func (m *ScanManager) notifyCompletion() {
	m.mu.Lock()
	if m.running > 0 {
		m.running--
	}
	m.mu.Unlock()
}

// scanRun tracks one scan's lifecycle and eventual report.
type scanRun struct {
	id       string
	retailer string
	category string
	scanType types.ScanType
	entries  int

	mu          sync.Mutex
	status      ScanStatus
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	report      *types.ScanReport
	lastError   string
	cancel      context.CancelFunc
}

func (r *scanRun) start(m *ScanManager, entries []types.CatalogEntry) {
	runCtx, cancel := context.WithCancel(m.rootCtx)
	started := time.Now().UTC()

	r.mu.Lock()
	r.status = ScanStatusRunning
	r.startedAt = &started
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		report, err := m.engine.Scan(runCtx, r.retailer, r.category, r.scanType, entries)
		cancel()
		r.complete(report, err)
		m.notifyCompletion()
		if err != nil {
			m.logger.Warn("scan failed", "scan_id", r.id, "retailer", r.retailer, "error", err)
		}
	}()
}

func (r *scanRun) complete(report *types.ScanReport, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completedAt = &now
	r.cancel = nil
	switch {
	case errors.Is(err, context.Canceled):
		r.status = ScanStatusCancelled
	case err != nil:
		r.status = ScanStatusFailed
		r.lastError = err.Error()
	default:
		r.status = ScanStatusCompleted
		r.report = report
	}
}

// Cancel stops the run if it is still active.
func (r *scanRun) Cancel() bool {
	r.mu.Lock()
	cancel := r.cancel
	active := r.status == ScanStatusRunning && cancel != nil
	r.mu.Unlock()
	if !active {
		return false
	}
	cancel()
	return true
}

// Snapshot returns a copy of the public run state.
func (r *scanRun) Snapshot() ScanSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Detail returns the summary plus the report once completed.
func (r *scanRun) Detail() ScanDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ScanDetail{
		ScanSummary: r.snapshotLocked(),
		Report:      r.report,
	}
}

func (r *scanRun) snapshotLocked() ScanSummary {
	summary := ScanSummary{
		ScanID:    r.id,
		Retailer:  r.retailer,
		Category:  r.category,
		ScanType:  r.scanType,
		Status:    r.status,
		Entries:   r.entries,
		CreatedAt: r.createdAt,
		Error:     r.lastError,
	}
	if r.startedAt != nil {
		started := *r.startedAt
		summary.StartedAt = &started
	}
	if r.completedAt != nil {
		completed := *r.completedAt
		summary.CompletedAt = &completed
	}
	if r.report != nil {
		summary.New = len(r.report.New)
		summary.Suspected = len(r.report.Suspected)
		summary.Existing = len(r.report.Existing)
		summary.Rejected = len(r.report.Rejected)
		summary.PriceAlerts = len(r.report.PriceChanges)
	}
	return summary
}
