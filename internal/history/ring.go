// Package history keeps a bounded, in-memory record of recent execution
// reports so that transports can answer "what ran recently" without any
// persistent storage.
package history

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const (
	// DefaultCapacity is the number of reports kept when none is configured
	DefaultCapacity = 100

	// DefaultMaxAge is how long a report is kept when no age is configured
	DefaultMaxAge = 24 * time.Hour

	// DefaultMaxSize bounds the approximate memory held by the ring (5MB)
	DefaultMaxSize = 5 * 1024 * 1024

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = time.Minute
)

// Entry is one recorded execution report
type Entry struct {
	Report     *protocol.ExecutionReport
	RecordedAt time.Time
	size       int
}

func newEntry(report *protocol.ExecutionReport, now time.Time) *Entry {
	return &Entry{Report: report, RecordedAt: now, size: reportSize(report)}
}

// Size returns the approximate size of the entry in bytes
func (e *Entry) Size() int {
	return e.size
}

// reportSize approximates the memory a report holds through its text fields
func reportSize(r *protocol.ExecutionReport) int {
	n := len(r.RunID) + len(r.Summary) + len(r.UserMessage) + len(r.ExecutionSummary) + len(r.FallbackReason)
	for _, res := range r.Results {
		n += len(res.Task) + len(res.Capability) + len(res.Analysis) + len(res.Recommendation) + len(res.Error)
		n += 64 * len(res.RawData)
	}
	return n + 64
}

// Matches checks if the entry passes the given filters
func (e *Entry) Matches(opts GetOptions, pattern *regexp.Regexp) bool {
	r := e.Report

	if opts.Mode != "" && r.Mode != opts.Mode {
		return false
	}
	if opts.FailedOnly && r.TasksFailed == 0 {
		return false
	}
	if opts.Severity != "" && r.SeverityCounts[opts.Severity] == 0 {
		return false
	}

	if pattern == nil {
		return true
	}
	if pattern.MatchString(r.Summary) || pattern.MatchString(r.UserMessage) {
		return true
	}
	for _, res := range r.Results {
		if pattern.MatchString(res.Task) || pattern.MatchString(res.Analysis) {
			return true
		}
	}
	return false
}

// Ring is a thread-safe ring of execution reports with count, size and age limits
type Ring struct {
	mutex     sync.RWMutex
	entries   []*Entry
	head      int // next position to write
	tail      int // oldest entry
	size      int
	capacity  int
	totalSize int
	maxSize   int
	maxAge    time.Duration
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	cleanupWg sync.WaitGroup
}

// NewRing creates a ring holding at most capacity reports, evicting the
// oldest first when maxSize bytes are exceeded or a report is older than
// maxAge. Non-positive arguments select the defaults.
func NewRing(capacity, maxSize int, maxAge time.Duration) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Ring{
		entries:  make([]*Entry, capacity),
		capacity: capacity,
		maxSize:  maxSize,
		maxAge:   maxAge,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	r.cleanupWg.Add(1)
	go r.backgroundCleanup()

	return r
}

// NewRingFromConfig creates a ring sized by the history section of the config
func NewRingFromConfig(cfg config.HistoryConfig) *Ring {
	return NewRing(cfg.Capacity, int(cfg.MaxSizeBytes()), cfg.MaxAge)
}

// Record adds a report. Nil reports are ignored.
func (r *Ring) Record(report *protocol.ExecutionReport) {
	if report == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.addUnsafe(newEntry(report, r.now()))
	r.evictBySizeUnsafe()
}

func (r *Ring) addUnsafe(entry *Entry) {
	if r.size == r.capacity {
		if old := r.entries[r.tail]; old != nil {
			r.totalSize -= old.Size()
		}
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}

	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
	r.totalSize += entry.Size()
	r.size++
}

func (r *Ring) removeOldestUnsafe() {
	if old := r.entries[r.tail]; old != nil {
		r.totalSize -= old.Size()
	}
	r.entries[r.tail] = nil
	r.tail = (r.tail + 1) % r.capacity
	r.size--
}

// evictBySizeUnsafe keeps at least the newest entry even when it alone is too large
func (r *Ring) evictBySizeUnsafe() {
	for r.totalSize > r.maxSize && r.size > 1 {
		r.removeOldestUnsafe()
	}
}

func (r *Ring) evictByTimeUnsafe() {
	cutoff := r.now().Add(-r.maxAge)

	for r.size > 0 {
		entry := r.entries[r.tail]
		if entry == nil || entry.RecordedAt.After(cutoff) {
			break
		}
		r.removeOldestUnsafe()
	}
}

func (r *Ring) backgroundCleanup() {
	defer r.cleanupWg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}

// Expire drops every report older than the ring's maximum age
func (r *Ring) Expire() {
	r.mutex.Lock()
	r.evictByTimeUnsafe()
	r.mutex.Unlock()
}

// GetOptions filters the reports returned by Get
type GetOptions struct {
	Limit      int                    // newest N matches (0 = no limit)
	Since      time.Time              // only reports recorded at or after this time
	Mode       protocol.ExecutionMode // only reports that ran in this mode
	Severity   protocol.Severity      // only reports with at least one result of this severity
	FailedOnly bool                   // only reports with at least one failed task
	Pattern    string                 // regex matched against summary, user message, tasks and analyses
}

// Get returns matching entries, oldest first
func (r *Ring) Get(opts GetOptions) ([]*Entry, error) {
	var pattern *regexp.Regexp
	if opts.Pattern != "" {
		var err error
		pattern, err = regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*Entry
	for _, entry := range r.getAllEntriesUnsafe() {
		if !opts.Since.IsZero() && entry.RecordedAt.Before(opts.Since) {
			continue
		}
		if entry.Matches(opts, pattern) {
			result = append(result, entry)
		}
	}

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[len(result)-opts.Limit:]
	}
	return result, nil
}

// Lookup finds a report by run ID
func (r *Ring) Lookup(runID string) (*protocol.ExecutionReport, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, entry := range r.getAllEntriesUnsafe() {
		if entry.Report.RunID == runID {
			return entry.Report, true
		}
	}
	return nil, false
}

// getAllEntriesUnsafe returns all entries in chronological order
func (r *Ring) getAllEntriesUnsafe() []*Entry {
	if r.size == 0 {
		return nil
	}

	result := make([]*Entry, 0, r.size)
	for i := 0; i < r.size; i++ {
		if entry := r.entries[(r.tail+i)%r.capacity]; entry != nil {
			result = append(result, entry)
		}
	}
	return result
}

// GetStats returns statistics about the ring
func (r *Ring) GetStats() Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := Stats{
		EntryCount:     r.size,
		TotalSizeBytes: r.totalSize,
		Capacity:       r.capacity,
	}
	if entries := r.getAllEntriesUnsafe(); len(entries) > 0 {
		oldest := entries[0].RecordedAt
		newest := entries[len(entries)-1].RecordedAt
		stats.OldestRecorded = &oldest
		stats.NewestRecorded = &newest
	}
	return stats
}

// Clear removes every report
func (r *Ring) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.entries {
		r.entries[i] = nil
	}
	r.head, r.tail, r.size, r.totalSize = 0, 0, 0, 0
}

// Close stops the background cleanup goroutine
func (r *Ring) Close() {
	r.cancel()
	r.cleanupWg.Wait()
}

// Stats represents statistics about the ring
type Stats struct {
	EntryCount     int        `json:"entry_count"`
	TotalSizeBytes int        `json:"total_size_bytes"`
	Capacity       int        `json:"capacity"`
	OldestRecorded *time.Time `json:"oldest_recorded,omitempty"`
	NewestRecorded *time.Time `json:"newest_recorded,omitempty"`
}

// String returns a human-readable string representation of the stats
func (s Stats) String() string {
	if s.EntryCount == 0 {
		return "History is empty"
	}
	return fmt.Sprintf("History: %d/%d reports, %d bytes", s.EntryCount, s.Capacity, s.TotalSizeBytes)
}
