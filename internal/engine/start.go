package engine

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/assembler"
	"romvault-engine/internal/chunkplan"
	"romvault-engine/internal/eventbus"
	"romvault-engine/internal/filesystem"
	"romvault-engine/internal/session"
	"romvault-engine/internal/speed"
	"romvault-engine/internal/storage"
	"romvault-engine/internal/transport"
	"romvault-engine/internal/verify"
)

const (
	progressFlushInterval = 400 * time.Millisecond
	defaultChunkFloor     = 2
)

// startSimple runs the SIMPLE download flow (spec §4.10): one streamed GET
// with resume-by-Range, then straight into verification.
func (e *Engine) startSimple(ctx context.Context, tok session.Token, d *storage.Download, client *http.Client) {
	if err := e.store.SetState(d.ID, storage.Downloading, "", "", ""); err != nil {
		return
	}
	if err := e.store.SetMode(d.ID, storage.ModeSimple); err != nil {
		e.log.Warn("set mode failed", "id", d.ID, "error", err)
	}

	host := hostOf(d.URL)
	partPath := filesystem.SimplePartPath(d.SavePath)
	tracker := e.trackerFor(d.ID)

	var lastFlush time.Time
	onProgress := func(written int64) {
		if !e.sess.IsCurrent(d.ID, tok) {
			return
		}
		tracker.Sample(written)
		if time.Since(lastFlush) < progressFlushInterval {
			return
		}
		lastFlush = time.Now()
		_ = e.store.UpdateProgress(d.ID, written)
		e.bus.Publish(eventbus.DownloadProgress, map[string]any{"id": d.ID, "downloaded_bytes": written})
	}

	attempt := 0
	var lastErr error
	for attempt <= e.cfg.MaxChunkRetries {
		if !e.hostLimiter.Allow(host) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		err := e.breakers.Execute(host, func() error {
			return transport.SimpleDownload(ctx, client, e.bw, d.URL, partPath, d.SavePath,
				time.Duration(e.cfg.ChunkTimeoutMinutes*float64(time.Minute)), onProgress)
		})
		_ = e.store.RecordAttempt(&storage.Attempt{DownloadID: d.ID, AttemptNumber: attempt, ErrorText: errText(err)})
		if err == nil {
			e.finishDownload(ctx, tok, d)
			return
		}
		lastErr = err
		if !e.sess.IsCurrent(d.ID, tok) {
			return // paused or cancelled mid-flight
		}
		if !retryable(err) {
			break
		}
		attempt++
		time.Sleep(transport.BackoffDelay(attempt, 500*time.Millisecond, 30*time.Second))
	}
	e.failDownload(d.ID, tok, lastErr)
}

func retryable(err error) bool {
	if ae, ok := err.(*apperr.Error); ok {
		return ae.Retryable()
	}
	return true
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// startChunked runs the CHUNKED download flow (spec §4.9, §4.11): plan
// ranges, fan out one goroutine per chunk bounded by the per-download
// adaptive semaphore, then merge and verify once every chunk lands.
func (e *Engine) startChunked(ctx context.Context, tok session.Token, d *storage.Download, client *http.Client, totalBytes int64) {
	if err := e.store.SetState(d.ID, storage.Downloading, "", "", ""); err != nil {
		return
	}
	if err := e.store.SetMode(d.ID, storage.ModeChunked); err != nil {
		e.log.Warn("set mode failed", "id", d.ID, "error", err)
	}

	count := chunkplan.TargetChunkCount(totalBytes)
	if count > e.cfg.MaxChunksPerDownload {
		count = e.cfg.MaxChunksPerDownload
	}
	plan := chunkplan.Plan(totalBytes, count)

	rows := make([]storage.Chunk, len(plan))
	for i, r := range plan {
		rows[i] = storage.Chunk{ChunkIndex: r.Index, StartByte: r.Start, EndByte: r.End, State: storage.ChunkPending}
	}
	// A retry that plans the same ranges keeps the stored rows, so chunks
	// already written (and their tail-hash checkpoints) are resumed.
	existing, _ := e.store.ListChunks(d.ID)
	reuse := len(existing) == len(plan)
	for i := 0; reuse && i < len(plan); i++ {
		reuse = existing[i].ChunkIndex == plan[i].Index && existing[i].StartByte == plan[i].Start && existing[i].EndByte == plan[i].End
	}
	if reuse {
		rows = existing
	} else if err := e.store.UpsertChunks(d.ID, rows); err != nil {
		e.failDownload(d.ID, tok, err)
		return
	}

	initial := defaultChunkFloor + 1
	if initial > count {
		initial = count
	}
	e.conc.InitChunks(d.ID, initial, defaultChunkFloor, count)
	defer e.conc.RemoveDownload(d.ID)
	defer e.monitor.Forget(d.ID)

	host := hostOf(d.URL)
	tracker := e.trackerFor(d.ID)

	monitorStop := make(chan struct{})
	go e.runResizeLoop(d.ID, monitorStop)
	defer close(monitorStop)

	// chunkCtx is cancelled the moment any one chunk exhausts its retries,
	// so healthy siblings stop instead of running to completion on a
	// download that is already going to FAIL (§4.11). It is derived from
	// ctx, not from the session's own Invalidate, so a chunk failure never
	// clears the run's current token the way a pause/cancel does.
	chunkCtx, cancelChunks := context.WithCancel(ctx)
	defer cancelChunks()

	var wg sync.WaitGroup
	results := make(chan error, len(plan))
	var totalWritten atomic.Int64
	totalWritten.Store(sumChunkProgress(rows))

	for _, r := range plan {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.conc.AcquireChunk(chunkCtx, d.ID); err != nil {
				results <- err
				return
			}
			defer e.conc.ReleaseChunk(d.ID)
			err := e.runChunk(chunkCtx, tok, d, client, host, r, tracker, &totalWritten)
			if err != nil {
				cancelChunks()
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var agg *multierror.Error
	for err := range results {
		if err != nil {
			agg = multierror.Append(agg, err)
		}
	}
	if !e.sess.IsCurrent(d.ID, tok) {
		return
	}
	if agg.ErrorOrNil() != nil {
		e.failDownload(d.ID, tok, agg.Errors[0])
		return
	}

	e.mergeAndFinish(ctx, tok, d, totalBytes, len(plan))
}

// runChunk downloads one chunk with its own retry/backoff loop, resuming
// from an on-disk tail-hash checkpoint when possible (spec §4.11).
func (e *Engine) runChunk(ctx context.Context, tok session.Token, d *storage.Download, client *http.Client, host string, r chunkplan.Range, tracker *speed.Tracker, total *atomic.Int64) error {
	partPath := filesystem.ChunkPartPath(d.SavePath, r.Index)
	chunks, err := e.store.ListChunks(d.ID)
	if err != nil {
		return err
	}
	var resumeFrom int64
	var tailHash string
	for _, c := range chunks {
		if c.ChunkIndex == r.Index {
			resumeFrom = c.WrittenBytes
			tailHash = c.TailHash
		}
	}
	reported := resumeFrom // this chunk's share of total so far
	if resumeFrom > 0 && !transport.VerifyResumable(partPath, resumeFrom, tailHash) {
		resumeFrom = 0
	}

	_ = e.store.SetChunkState(d.ID, r.Index, storage.ChunkDownloading)

	var lastErr error
	attempt := 0
	for attempt <= e.cfg.MaxChunkRetries {
		if !e.hostLimiter.Allow(host) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		req := transport.ChunkRequest{URL: d.URL, PartPath: partPath, Start: r.Start, End: r.End, ResumeFrom: resumeFrom}
		err := e.breakers.Execute(host, func() error {
			return transport.DownloadChunk(ctx, client, e.bw, req, func(written int64) {
				if !e.sess.IsCurrent(d.ID, tok) {
					return
				}
				e.monitor.RecordChunkProgress(d.ID, r.Index, written)
				delta := written - reported
				reported = written
				sum := total.Add(delta)
				tracker.Sample(sum)
				_ = e.store.SetChunkProgress(d.ID, r.Index, written)
			})
		})
		_ = e.store.IncrementChunkAttempts(d.ID, r.Index)
		_ = e.store.RecordAttempt(&storage.Attempt{DownloadID: d.ID, ChunkIndex: &r.Index, AttemptNumber: attempt, ErrorText: errText(err)})

		if err == nil {
			if h, herr := transport.TailHash(partPath); herr == nil {
				_ = e.store.SetChunkTailHash(d.ID, r.Index, h)
			}
			_ = e.store.SetChunkState(d.ID, r.Index, storage.ChunkCompleted)
			e.bus.Publish(eventbus.ChunkCompleted, map[string]any{"id": d.ID, "chunk_index": r.Index})
			return nil
		}
		lastErr = err
		if !e.sess.IsCurrent(d.ID, tok) {
			return err
		}
		if err == transport.ErrServerIgnoredRange {
			resumeFrom = 0
		}
		if !retryable(err) {
			break
		}
		attempt++
		time.Sleep(transport.BackoffDelay(attempt, 500*time.Millisecond, 30*time.Second))
	}
	_ = e.store.SetChunkState(d.ID, r.Index, storage.ChunkFailed)
	e.bus.Publish(eventbus.ChunkFailed, map[string]any{"id": d.ID, "chunk_index": r.Index, "error": errText(lastErr)})
	return lastErr
}

func (e *Engine) runResizeLoop(id uint, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.monitor.Tick(id)
		}
	}
}

// mergeAndFinish implements the Merge and Verify phases (spec §4.12, §4.13).
func (e *Engine) mergeAndFinish(ctx context.Context, tok session.Token, d *storage.Download, totalBytes int64, chunkCount int) {
	if err := e.store.SetState(d.ID, storage.Merging, "", "", ""); err != nil {
		return
	}
	e.bus.Publish(eventbus.MergeStarted, map[string]any{"id": d.ID})

	done := make(chan error, 1)
	err := e.pool.Submit(func(context.Context) {
		done <- e.asm.Assemble(d.SavePath, totalBytes, chunkCount)
	})
	if err != nil {
		done <- e.asm.Assemble(d.SavePath, totalBytes, chunkCount)
	}
	if err := <-done; err != nil {
		_ = e.store.SetState(d.ID, storage.Failed, errText(err), "", string(apperr.Disk))
		_ = e.store.SetFailedDuringMerge(d.ID, true)
		e.bus.Publish(eventbus.DownloadFailed, map[string]any{"id": d.ID, "error": errText(err), "during_merge": true})
		return
	}
	_ = assembler.CleanupStaging(d.SavePath)
	e.finishDownload(ctx, tok, d)
}

// finishDownload runs verification (unless skipped), organizes the file,
// and transitions to COMPLETED.
func (e *Engine) finishDownload(ctx context.Context, tok session.Token, d *storage.Download) {
	if !e.sess.IsCurrent(d.ID, tok) {
		return
	}
	finalPath := d.SavePath

	if !e.cfg.SkipVerification {
		if err := e.store.SetState(d.ID, storage.Verifying, "", "", ""); err != nil {
			return
		}
		e.bus.Publish(eventbus.VerificationStarted, map[string]any{"id": d.ID})
		declaredSize := int64(0)
		if d.TotalBytes != nil {
			declaredSize = *d.TotalBytes
		}
		declaredHash := ""
		if d.DeclaredHash != "" {
			declaredHash = d.DeclaredHashAlgo + ":" + d.DeclaredHash
		}
		if _, err := verify.Verify(finalPath, declaredSize, declaredHash); err != nil {
			_ = e.store.SetState(d.ID, storage.Failed, errText(err), "", string(apperr.Integrity))
			e.bus.Publish(eventbus.DownloadFailed, map[string]any{"id": d.ID, "error": errText(err)})
			return
		}
	}

	if moved, err := e.org.Organize(finalPath); err == nil {
		finalPath = moved
	}
	_ = e.store.SetState(d.ID, storage.Completed, "", "", "")
	e.bus.Publish(eventbus.DownloadCompleted, map[string]any{"id": d.ID, "path": finalPath})
}

func sumChunkProgress(rows []storage.Chunk) int64 {
	var total int64
	for _, c := range rows {
		total += c.WrittenBytes
	}
	return total
}
