// Package storage is the State Store: a write-ahead-logged, single-writer,
// multi-reader durable record of every download and chunk, grounded in the
// teacher's gorm-backed model layer (internal/storage/models.go) and its
// glebarez/sqlite driver choice.
package storage

import "time"

type DownloadState string

const (
	Queued      DownloadState = "QUEUED"
	Starting    DownloadState = "STARTING"
	Downloading DownloadState = "DOWNLOADING"
	Paused      DownloadState = "PAUSED"
	Merging     DownloadState = "MERGING"
	Verifying   DownloadState = "VERIFYING"
	Completed   DownloadState = "COMPLETED"
	Failed      DownloadState = "FAILED"
	Cancelled   DownloadState = "CANCELLED"
)

type ChunkState string

const (
	ChunkPending     ChunkState = "PENDING"
	ChunkDownloading ChunkState = "DOWNLOADING"
	ChunkCompleted   ChunkState = "COMPLETED"
	ChunkFailed      ChunkState = "FAILED"
	ChunkPaused      ChunkState = "PAUSED"
)

type DownloadMode string

const (
	ModeSimple  DownloadMode = "SIMPLE"
	ModeChunked DownloadMode = "CHUNKED"
)

// ErrCodeAwaitOverwrite is the error_code that, paired with state PAUSED,
// represents the "pending overwrite-confirmation" pseudo-state (§4.1).
const ErrCodeAwaitOverwrite = "AWAIT_OVERWRITE"

// Download is the durable record of one queued/running/finished transfer.
type Download struct {
	ID                uint          `gorm:"primaryKey;autoIncrement"`
	URL               string        `gorm:"not null"`
	SaveName          string        `gorm:"not null"`
	SavePath          string        `gorm:"not null"`
	TotalBytes        *int64        ``
	State             DownloadState `gorm:"index;not null"`
	DownloadedBytes   int64
	Priority          int
	Mode              DownloadMode
	ErrorMessage      string
	ErrorCode         string
	ErrorKind         string
	FailedDuringMerge bool
	DeclaredHash      string
	DeclaredHashAlgo  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastTransitionAt  time.Time
}

// Chunk is a durable contiguous byte range of a CHUNKED download.
type Chunk struct {
	DownloadID   uint       `gorm:"primaryKey;autoIncrement:false;index:idx_chunk_download"`
	ChunkIndex   int        `gorm:"primaryKey;autoIncrement:false"`
	StartByte    int64      `gorm:"not null"`
	EndByte      int64      `gorm:"not null"`
	State        ChunkState `gorm:"not null"`
	WrittenBytes int64
	Attempts     int
	TailHash     string
	UpdatedAt    time.Time
}

// Attempt is an append-only log entry used for attempt counts and diagnosis.
type Attempt struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	DownloadID       uint `gorm:"index:idx_attempt_download_ts"`
	ChunkIndex       *int
	AttemptNumber    int
	ErrorText        string
	ErrorCode        string
	BytesTransferred int64
	Timestamp        time.Time `gorm:"index:idx_attempt_download_ts"`
}

// Setting is a simple key/value row for mutable runtime overrides (host
// bandwidth caps, priority tweaks) that don't warrant a config reload,
// grounded in internal/config/settings.go's DB-backed settings table.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// versionCounter is the single integer row bumped inside every write
// transaction (§6 "State persistence").
type versionCounter struct {
	ID      uint `gorm:"primaryKey"`
	Version int64
}

// Summary is the read-only projection handed to snapshot() callers.
type Summary struct {
	ID                uint
	URL               string
	SaveName          string
	SavePath          string
	TotalBytes        *int64
	State             DownloadState
	DownloadedBytes   int64
	Priority          int
	Mode              DownloadMode
	ErrorMessage      string
	ErrorCode         string
	ErrorKind         string
	FailedDuringMerge bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (d Download) toSummary() Summary {
	return Summary{
		ID: d.ID, URL: d.URL, SaveName: d.SaveName, SavePath: d.SavePath,
		TotalBytes: d.TotalBytes, State: d.State, DownloadedBytes: d.DownloadedBytes,
		Priority: d.Priority, Mode: d.Mode, ErrorMessage: d.ErrorMessage,
		ErrorCode: d.ErrorCode, ErrorKind: d.ErrorKind, FailedDuringMerge: d.FailedDuringMerge,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// allowedTransitions is the table from spec.md §4.1.
var allowedTransitions = map[DownloadState]map[DownloadState]bool{
	Queued:      set(Starting, Cancelled, Paused),
	Starting:    set(Downloading, Paused, Failed, Cancelled),
	Downloading: set(Paused, Merging, Verifying, Failed, Cancelled, Completed),
	Paused:      set(Queued, Starting, Cancelled, Failed),
	Merging:     set(Verifying, Completed, Failed, Cancelled),
	Verifying:   set(Completed, Failed, Cancelled),
	Completed:   {},
	Failed:      set(Queued, Cancelled),
	Cancelled:   {},
}

func set(states ...DownloadState) map[DownloadState]bool {
	m := make(map[DownloadState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

func isAllowed(from, to DownloadState) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
