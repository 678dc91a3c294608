package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"romvault-engine/internal/apperr"
)

// Notifier is the Event Bus seam the Store notifies after every commit,
// avoiding an import cycle between storage and eventbus.
type Notifier interface {
	Publish(event string, payload any)
}

// Store is the engine's single writer, many-reader durable record. Add,
// SetState, UpdateProgress and BatchUpdateProgress take its mutex and bump
// state_version inside their transaction: GORM/SQLite already serialize
// writers, but those methods are ordered by the mutex, not by the DB. The
// other writers (SetTotalBytes, SetMode, SetFailedDuringMerge, the chunk
// setters, RecordAttempt, Remove, SetSetting) write directly, without the
// mutex and without a state_version bump.
type Store struct {
	db       *gorm.DB
	mu       sync.Mutex
	notifier Notifier
}

// Open creates (or reuses) a WAL-journaled SQLite database at path and
// migrates the schema, mirroring internal/storage/db_test.go's pragmas.
func Open(path string, notifier Notifier) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		return nil, fmt.Errorf("storage: set WAL: %w", err)
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL;").Error; err != nil {
		return nil, fmt.Errorf("storage: set synchronous: %w", err)
	}
	if err := db.AutoMigrate(&Download{}, &Chunk{}, &Attempt{}, &Setting{}, &versionCounter{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	s := &Store{db: db, notifier: notifier}
	if err := s.ensureVersionRow(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureVersionRow() error {
	var vc versionCounter
	return s.db.FirstOrCreate(&vc, versionCounter{ID: 1}).Error
}

func (s *Store) bumpVersion(tx *gorm.DB) (int64, error) {
	if err := tx.Model(&versionCounter{}).Where("id = ?", 1).
		UpdateColumn("version", gorm.Expr("version + 1")).Error; err != nil {
		return 0, err
	}
	var vc versionCounter
	if err := tx.First(&vc, 1).Error; err != nil {
		return 0, err
	}
	return vc.Version, nil
}

func (s *Store) notify(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Publish(event, payload)
	}
}

// Add persists a new Download in QUEUED state, atomically.
func (s *Store) Add(d *Download) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	d.State = Queued
	d.CreatedAt, d.UpdatedAt, d.LastTransitionAt = now, now, now

	var version int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		v, err := s.bumpVersion(tx)
		version = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: add: %w", err)
	}
	s.notify("state-changed", version)
	return d.ID, nil
}

// SetState performs an allowed state transition only; illegal transitions
// are rejected without mutating anything.
func (s *Store) SetState(id uint, to DownloadState, errMsg, errCode, errKind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var d Download
		if err := tx.First(&d, id).Error; err != nil {
			return err
		}
		if !isAllowed(d.State, to) {
			return apperr.Wrap(apperr.State, "ERR_ILLEGAL_TRANSITION",
				fmt.Sprintf("%s -> %s", d.State, to), apperr.ErrIllegalTransition)
		}
		updates := map[string]any{
			"state":              to,
			"error_message":      errMsg,
			"error_code":         errCode,
			"error_kind":         errKind,
			"last_transition_at": time.Now(),
			"updated_at":         time.Now(),
		}
		if err := tx.Model(&Download{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		v, err := s.bumpVersion(tx)
		version = v
		return err
	})
	if err != nil {
		return err
	}
	s.notify("state-changed", version)
	return nil
}

// UpdateProgress coalesces a single download's byte count. Like Add and
// SetState, it bumps state_version so a snapshot(min_version) poller
// observes progress without needing an unrelated state transition.
func (s *Store) UpdateProgress(id uint, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Download{}).Where("id = ?", id).
			Update("downloaded_bytes", bytes).Error; err != nil {
			return err
		}
		v, err := s.bumpVersion(tx)
		version = v
		return err
	})
	if err != nil {
		return err
	}
	s.notify("state-changed", version)
	return nil
}

// ProgressUpdate is one entry of a coalesced batch write.
type ProgressUpdate struct {
	ID    uint
	Bytes int64
}

// BatchUpdateProgress applies many progress updates in one transaction,
// the ≤2Hz coalesced write path named in §5, bumping state_version once
// for the whole batch.
func (s *Store) BatchUpdateProgress(updates []ProgressUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Model(&Download{}).Where("id = ?", u.ID).
				Update("downloaded_bytes", u.Bytes).Error; err != nil {
				return err
			}
		}
		v, err := s.bumpVersion(tx)
		version = v
		return err
	})
	if err != nil {
		return err
	}
	s.notify("state-changed", version)
	return nil
}

// SetTotalBytes fills in a download's size once probed or resolved.
func (s *Store) SetTotalBytes(id uint, total int64) error {
	return s.db.Model(&Download{}).Where("id = ?", id).Update("total_bytes", total).Error
}

// SetFailedDuringMerge flags a FAILED download as having failed during the
// merge phase rather than the transfer phase, so the UI can distinguish
// "re-download" from "re-merge" recovery (§4.12).
func (s *Store) SetFailedDuringMerge(id uint, v bool) error {
	return s.db.Model(&Download{}).Where("id = ?", id).Update("failed_during_merge", v).Error
}

// SetMode records whether the engine chose SIMPLE or CHUNKED.
func (s *Store) SetMode(id uint, mode DownloadMode) error {
	return s.db.Model(&Download{}).Where("id = ?", id).Update("mode", mode).Error
}

// UpsertChunks replaces a download's chunk plan, used once at START.
func (s *Store) UpsertChunks(downloadID uint, chunks []Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("download_id = ?", downloadID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		for i := range chunks {
			chunks[i].DownloadID = downloadID
			chunks[i].UpdatedAt = time.Now()
			if err := tx.Create(&chunks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SetChunkState(downloadID uint, chunkIndex int, state ChunkState) error {
	return s.db.Model(&Chunk{}).
		Where("download_id = ? AND chunk_index = ?", downloadID, chunkIndex).
		Updates(map[string]any{"state": state, "updated_at": time.Now()}).Error
}

func (s *Store) SetChunkProgress(downloadID uint, chunkIndex int, written int64) error {
	return s.db.Model(&Chunk{}).
		Where("download_id = ? AND chunk_index = ?", downloadID, chunkIndex).
		Update("written_bytes", written).Error
}

func (s *Store) SetChunkTailHash(downloadID uint, chunkIndex int, hash string) error {
	return s.db.Model(&Chunk{}).
		Where("download_id = ? AND chunk_index = ?", downloadID, chunkIndex).
		Update("tail_hash", hash).Error
}

func (s *Store) IncrementChunkAttempts(downloadID uint, chunkIndex int) error {
	return s.db.Model(&Chunk{}).
		Where("download_id = ? AND chunk_index = ?", downloadID, chunkIndex).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (s *Store) ListChunks(downloadID uint) ([]Chunk, error) {
	var chunks []Chunk
	err := s.db.Where("download_id = ?", downloadID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// RecordAttempt appends to the attempt log.
func (s *Store) RecordAttempt(a *Attempt) error {
	a.Timestamp = time.Now()
	return s.db.Create(a).Error
}

func (s *Store) ListAttempts(downloadID uint, limit int) ([]Attempt, error) {
	var attempts []Attempt
	q := s.db.Where("download_id = ?", downloadID).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}

func (s *Store) Get(id uint) (*Download, error) {
	var d Download
	if err := s.db.First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// CurrentVersion returns the monotonic state_version.
func (s *Store) CurrentVersion() (int64, error) {
	var vc versionCounter
	if err := s.db.First(&vc, 1).Error; err != nil {
		return 0, err
	}
	return vc.Version, nil
}

// Snapshot returns (version, summaries) if minVersion < current, else
// (current, nil) signalling the UI is already current.
func (s *Store) Snapshot(minVersion int64) (int64, []Summary, error) {
	version, err := s.CurrentVersion()
	if err != nil {
		return 0, nil, err
	}
	if minVersion >= version {
		return version, nil, nil
	}
	var downloads []Download
	if err := s.db.Order("id asc").Find(&downloads).Error; err != nil {
		return 0, nil, err
	}
	summaries := make([]Summary, len(downloads))
	for i, d := range downloads {
		summaries[i] = d.toSummary()
	}
	return version, summaries, nil
}

func (s *Store) ListByState(state DownloadState, limit int) ([]Download, error) {
	var downloads []Download
	q := s.db.Where("state = ?", state).Order("priority desc, created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&downloads).Error
	return downloads, err
}

// StateCounts aggregates counts per state for session_metrics().
func (s *Store) StateCounts() (map[DownloadState]int64, error) {
	type row struct {
		State DownloadState
		N     int64
	}
	var rows []row
	if err := s.db.Model(&Download{}).Select("state, count(*) as n").Group("state").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[DownloadState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}

// Remove deletes a terminal download's rows (history purge).
func (s *Store) Remove(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("download_id = ?", id).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("download_id = ?", id).Delete(&Attempt{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Download{}, id).Error
	})
}

func (s *Store) GetSetting(key string) (string, bool, error) {
	var st Setting
	err := s.db.First(&st, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return st.Value, true, nil
}

func (s *Store) SetSetting(key, value string) error {
	return s.db.Save(&Setting{Key: key, Value: value}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
