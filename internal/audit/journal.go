package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultJournalDir  = "./wal/audit"
	journalSegmentSize = 1000
	journalMaxSegments = 100
	verdictKeyPrefix   = "audit_verdict_"
)

// Record is one journaled audit verdict. Every candidate leaving the pipeline
// leaves exactly one record, pass or fail.
type Record struct {
	JobID           string    `json:"job_id"`
	Candidate       string    `json:"candidate"`
	Chain           string    `json:"chain"`
	Token           string    `json:"token"`
	Pass            bool      `json:"pass"`
	FailedCheck     string    `json:"failed_check,omitempty"`
	Reasons         []string  `json:"reasons,omitempty"`
	ChecksCompleted int       `json:"checks_completed"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	DecidedAt       time.Time `json:"decided_at"`
}

// IndexedRecord pairs a record with its WAL index for streaming consumers.
type IndexedRecord struct {
	Index  uint64 `json:"index"`
	Record Record `json:"record"`
}

// Journal persists audit verdicts in a WAL so the trail survives restarts.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewJournal opens (or creates) the audit-trail WAL under dir.
func NewJournal(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: journalSegmentSize,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init audit journal WAL")
	}

	return &Journal{wal: wal}, nil
}

// Append writes one verdict record.
func (j *Journal) Append(rec Record) error {
	if j == nil || j.wal == nil {
		return errors.New("audit journal is not initialized")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal audit record")
	}

	key := fmt.Sprintf("%s%s", verdictKeyPrefix, rec.Candidate)

	j.mu.Lock()
	defer j.mu.Unlock()

	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns all verdicts written after the given WAL index.
func (j *Journal) RecordsAfter(index uint64) ([]IndexedRecord, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("audit journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]IndexedRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, verdictKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrap(err, "decode audit record")
		}
		records = append(records, IndexedRecord{Index: idx, Record: rec})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
