// Package engine is the Download Engine orchestrator (spec §4.14): it
// wires every other component through the canonical state machine.
// Grounded directly on the teacher's TachyonEngine (internal/core/engine.go),
// generalized away from the Wails runtime bridge and re-targeted at the
// eventbus/ipc boundary.
package engine

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/assembler"
	"romvault-engine/internal/breaker"
	"romvault-engine/internal/chunkplan"
	"romvault-engine/internal/concurrency"
	"romvault-engine/internal/config"
	"romvault-engine/internal/eventbus"
	"romvault-engine/internal/filesystem"
	"romvault-engine/internal/policy"
	"romvault-engine/internal/ratelimit"
	"romvault-engine/internal/scheduler"
	"romvault-engine/internal/session"
	"romvault-engine/internal/speed"
	"romvault-engine/internal/storage"
	"romvault-engine/internal/transport"
	"romvault-engine/internal/verify"
	"romvault-engine/internal/workerpool"
)

// Engine is constructed once per process (a test harness constructs one
// per test, per the design notes).
type Engine struct {
	cfg    *config.EngineConfig
	log    *slog.Logger
	store  *storage.Store
	bus    *eventbus.Bus
	sess   *session.Manager
	breakers *breaker.Registry
	ipcLimiter *ratelimit.Limiter
	hostLimiter *ratelimit.Limiter
	conc   *concurrency.Controller
	monitor *concurrency.Monitor
	clients *transport.ClientPool
	bw      *transport.BandwidthManager
	alloc   *filesystem.Allocator
	asm     *assembler.Assembler
	org     *filesystem.Organizer
	policy  *policy.HostPolicy
	pool    *workerpool.Pool

	mu         sync.Mutex
	starting   map[uint]bool
	hostActive map[string]int
	trackers   map[uint]*speed.Tracker
	hostLimits map[string]int

	shutdownOnce sync.Once
	stopTicker   chan struct{}
	stopLoop     chan struct{}
}

// New wires every component together.
func New(cfg *config.EngineConfig, log *slog.Logger, store *storage.Store, bus *eventbus.Bus) (*Engine, error) {
	pol, err := policy.NewHostPolicy(cfg.HostAllowlist)
	if err != nil {
		return nil, err
	}
	var breakerMode breaker.Mode
	switch cfg.CircuitBreakerMode {
	case config.BreakerOff:
		breakerMode = breaker.ModeOff
	case config.BreakerGlobal:
		breakerMode = breaker.ModeGlobal
	default:
		breakerMode = breaker.ModePerHost
	}

	conc := concurrency.NewController(cfg.MaxParallelDownloads)
	e := &Engine{
		cfg:         cfg,
		log:         log,
		store:       store,
		bus:         bus,
		sess:        session.NewManager(),
		breakers:    breaker.NewRegistry(breakerMode),
		ipcLimiter:  ratelimit.New(50, time.Second),
		hostLimiter: ratelimit.New(20, time.Second),
		conc:        conc,
		monitor:     concurrency.NewMonitor(conc, 10*time.Second, 5*time.Second, 32*1024),
		clients:     transport.NewClientPool(),
		bw:          transport.NewBandwidthManager(),
		alloc:       filesystem.NewAllocator(),
		asm:         assembler.New(filesystem.NewAllocator()),
		org:         filesystem.NewOrganizer(cfg.OrganizeByCategory),
		policy:      pol,
		pool:        workerpool.New(1, 0),
		starting:    make(map[uint]bool),
		hostActive:  make(map[string]int),
		trackers:    make(map[uint]*speed.Tracker),
		hostLimits:  make(map[string]int),
		stopTicker:  make(chan struct{}),
		stopLoop:    make(chan struct{}),
	}
	go e.tickLoop()
	return e, nil
}

// AddRequest is the parsed, validated shape of engine.add (§6).
type AddRequest struct {
	URL        string
	SavePath   string
	SaveName   string
	TotalBytes int64
	Priority   int
	DeclaredHash     string
	DeclaredHashAlgo string
}

// Add validates and persists a new QUEUED download, then nudges the
// Scheduler.
func (e *Engine) Add(req AddRequest) (uint, error) {
	if _, err := e.policy.ValidateURL(req.URL); err != nil {
		return 0, err
	}
	if req.SavePath == "" {
		return 0, apperr.New(apperr.Validation, "", "save_path is required")
	}
	if req.Priority < 1 || req.Priority > 3 {
		req.Priority = 2
	}

	d := &storage.Download{
		URL: req.URL, SaveName: req.SaveName, SavePath: req.SavePath,
		Priority: req.Priority, DeclaredHash: req.DeclaredHash, DeclaredHashAlgo: req.DeclaredHashAlgo,
	}
	if req.TotalBytes > 0 {
		d.TotalBytes = &req.TotalBytes
	}

	id, err := e.store.Add(d)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.trackers[id] = speed.New()
	e.mu.Unlock()
	e.nudge()
	return id, nil
}

// AddBatch loops Add for a folder-add, nudging the Scheduler once rather
// than once per item (Open Question resolution, SPEC_FULL §6).
func (e *Engine) AddBatch(reqs []AddRequest) ([]uint, error) {
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		id, err := e.addNoNudge(r)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	e.nudge()
	return ids, nil
}

func (e *Engine) addNoNudge(req AddRequest) (uint, error) {
	if _, err := e.policy.ValidateURL(req.URL); err != nil {
		return 0, err
	}
	if req.SavePath == "" {
		return 0, apperr.New(apperr.Validation, "", "save_path is required")
	}
	if req.Priority < 1 || req.Priority > 3 {
		req.Priority = 2
	}
	d := &storage.Download{
		URL: req.URL, SaveName: req.SaveName, SavePath: req.SavePath,
		Priority: req.Priority, DeclaredHash: req.DeclaredHash, DeclaredHashAlgo: req.DeclaredHashAlgo,
	}
	if req.TotalBytes > 0 {
		d.TotalBytes = &req.TotalBytes
	}
	id, err := e.store.Add(d)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.trackers[id] = speed.New()
	e.mu.Unlock()
	return id, nil
}

// trackerFor returns id's Speed Tracker, minting one if this is its first
// run (e.g. a download added before the current process started).
func (e *Engine) trackerFor(id uint) *speed.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trackers[id]
	if !ok {
		t = speed.New()
		e.trackers[id] = t
	}
	return t
}

// Pause invalidates the session and transitions a download to PAUSED.
func (e *Engine) Pause(id uint) error {
	e.sess.Invalidate(id)
	return e.store.SetState(id, storage.Paused, "", "", "")
}

func (e *Engine) PauseAll() error {
	downloads, err := e.store.ListByState(storage.Downloading, 0)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if err := e.Pause(d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Resume transitions a paused/failed download back to QUEUED.
func (e *Engine) Resume(id uint) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if d.State == storage.Paused && d.ErrorCode == storage.ErrCodeAwaitOverwrite {
		// Re-prompt rather than silently resume (Open Question decision, SPEC_FULL §6).
		e.bus.Publish(eventbus.NeedsConfirmation, map[string]any{"id": id})
		return nil
	}
	if err := e.store.SetState(id, storage.Queued, "", "", ""); err != nil {
		return err
	}
	e.nudge()
	return nil
}

func (e *Engine) ResumeAll() error {
	downloads, err := e.store.ListByState(storage.Paused, 0)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if err := e.Resume(d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Cancel invalidates the session, transitions to CANCELLED, and deletes
// on-disk artifacts.
func (e *Engine) Cancel(id uint) error {
	e.sess.Invalidate(id)
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.SetState(id, storage.Cancelled, "", "", ""); err != nil {
		return err
	}
	_ = assembler.CleanupStaging(d.SavePath)
	_ = os.Remove(filesystem.SimplePartPath(d.SavePath))
	e.conc.RemoveDownload(id)
	e.monitor.Forget(id)
	return nil
}

func (e *Engine) CancelAll() error {
	for _, state := range []storage.DownloadState{storage.Queued, storage.Starting, storage.Downloading, storage.Paused} {
		downloads, err := e.store.ListByState(state, 0)
		if err != nil {
			return err
		}
		for _, d := range downloads {
			if err := e.Cancel(d.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Retry requeues a FAILED download; completed chunks and their parts are kept.
func (e *Engine) Retry(id uint) error {
	if err := e.store.SetState(id, storage.Queued, "", "", ""); err != nil {
		return err
	}
	e.nudge()
	return nil
}

// Remove deletes a terminal download's rows and on-disk artifacts.
func (e *Engine) Remove(id uint) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.Remove(id); err != nil {
		return err
	}
	_ = assembler.CleanupStaging(d.SavePath)
	_ = os.Remove(filesystem.SimplePartPath(d.SavePath))
	e.mu.Lock()
	delete(e.trackers, id)
	e.mu.Unlock()
	return nil
}

// ConfirmOverwrite clears AWAIT_OVERWRITE; accept resumes through the
// Scheduler like any other QUEUED item (§4.8, §4.14), reject cancels.
func (e *Engine) ConfirmOverwrite(id uint, accept bool) error {
	if accept {
		if err := e.store.SetState(id, storage.Queued, "", "", ""); err != nil {
			return err
		}
		e.nudge()
		return nil
	}
	return e.Cancel(id)
}

// Snapshot delegates to the Store.
func (e *Engine) Snapshot(minVersion int64) (int64, []storage.Summary, error) {
	return e.store.Snapshot(minVersion)
}

func (e *Engine) nudge() {
	select {
	case e.stopTicker <- struct{}{}:
	default:
	}
}

func (e *Engine) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-e.stopTicker:
			e.tick()
		case <-e.stopLoop:
			return
		}
	}
}

// tick asks the Scheduler which queued ids to start, under a critical
// section that excludes ids already mid-flight.
func (e *Engine) tick() {
	queued, err := e.store.ListByState(storage.Queued, 0)
	if err != nil {
		e.log.Error("tick: list queued", "error", err)
		return
	}

	e.mu.Lock()
	candidates := make([]scheduler.Candidate, 0, len(queued))
	for i, d := range queued {
		if e.starting[d.ID] {
			continue
		}
		host := hostOf(d.URL)
		candidates = append(candidates, scheduler.Candidate{
			ID: d.ID, Host: host, Priority: d.Priority, QueuedAt: d.CreatedAt, Inserted: i,
		})
	}
	globalFree := e.cfg.MaxParallelDownloads - len(e.hostActiveTotal())
	hostActive := make(map[string]int, len(e.hostActive))
	for h, n := range e.hostActive {
		hostActive[h] = n
	}
	perHostCap := e.cfg.PerHostConcurrencyCap
	e.mu.Unlock()

	plan := scheduler.Select(candidates, time.Now(), globalFree, perHostCap, hostActive, e.breakers)
	for _, id := range plan.ToStart {
		e.mu.Lock()
		e.starting[id] = true
		e.mu.Unlock()
		go e.runStarted(id)
	}
}

func (e *Engine) hostActiveTotal() map[string]int {
	return e.hostActive
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

func statPath(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// runStarted implements the Start flow (spec §4.14).
func (e *Engine) runStarted(id uint) {
	defer func() {
		e.mu.Lock()
		delete(e.starting, id)
		e.mu.Unlock()
	}()

	ctx, tok := e.sess.Start(context.Background(), id)
	if err := e.conc.AcquireGlobal(ctx); err != nil {
		return
	}
	defer e.conc.ReleaseGlobal()

	if err := e.store.SetState(id, storage.Starting, "", "", ""); err != nil {
		e.log.Warn("start: set STARTING failed", "id", id, "error", err)
		return
	}

	d, err := e.store.Get(id)
	if err != nil {
		return
	}
	host := hostOf(d.URL)
	e.trackHostActive(host, 1)
	defer e.trackHostActive(host, -1)

	client := e.clients.For(host)

	var probe transport.ProbeResult
	err = e.breakers.Execute(host, func() error {
		p, perr := transport.Probe(ctx, client, d.URL)
		probe = p
		return perr
	})
	if err != nil {
		e.failDownload(id, tok, err)
		return
	}
	if probe.TotalBytes > 0 {
		_ = e.store.SetTotalBytes(id, probe.TotalBytes)
	}

	if exists, info := statFinal(d.SavePath); exists {
		if err := e.store.SetState(id, storage.Paused, "target exists", storage.ErrCodeAwaitOverwrite, string(apperr.Validation)); err != nil {
			e.log.Warn("await-overwrite transition failed", "id", id, "error", err)
		}
		e.bus.Publish(eventbus.NeedsConfirmation, map[string]any{"id": id, "file_info": info})
		return
	}

	simple := chunkplan.ShouldUseSimple(probe.TotalBytes, probe.AcceptRanges, e.cfg.DisableChunked)
	if simple {
		e.startSimple(ctx, tok, d, client)
		return
	}
	e.startChunked(ctx, tok, d, client, probe.TotalBytes)
}

func (e *Engine) trackHostActive(host string, delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hostActive[host] += delta
	if e.hostActive[host] <= 0 {
		delete(e.hostActive, host)
	}
}

func statFinal(path string) (bool, map[string]any) {
	info, err := statPath(path)
	if err != nil {
		return false, nil
	}
	return true, map[string]any{"size": info}
}

func (e *Engine) failDownload(id uint, tok session.Token, err error) {
	if !e.sess.IsCurrent(id, tok) {
		return
	}
	kind, code, msg := classify(err)
	_ = e.store.SetState(id, storage.Failed, msg, code, string(kind))
	e.bus.Publish(eventbus.DownloadFailed, map[string]any{"id": id, "error": msg})
}

func classify(err error) (apperr.Kind, string, string) {
	if ae, ok := err.(*apperr.Error); ok {
		return ae.Kind, ae.Code, ae.Message
	}
	return apperr.Network, "", err.Error()
}

// Shutdown stops the Scheduler, pauses active downloads, and retires
// every owned component (spec §5 "Shutdown").
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.stopLoop)
		_ = e.PauseAll()
		e.sess.Shutdown()
		e.pool.Shutdown()
		e.breakers.Shutdown()
		e.bus.Close()
		_ = e.store.Close()
	})
}

// newID returns a random UUID string. Nothing in the engine calls it:
// download ids are store-assigned integers and attempt records carry no
// correlation id.
func newID() string { return uuid.NewString() }
