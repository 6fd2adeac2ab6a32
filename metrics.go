package norfs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTableCommit is called after each allocation table rewrite.
	RecordTableCommit(duration time.Duration, err error)

	// RecordPageWrite is called by the write executor after each page program.
	RecordPageWrite(duration time.Duration, err error)

	// RecordSectorClaim is called when sectors are erased ahead for allocation.
	// sectors is the size of the erased region.
	RecordSectorClaim(sectors int, duration time.Duration, err error)

	// RecordRelocation is called after each tail relocation.
	RecordRelocation(duration time.Duration, err error)

	// RecordCorruptedPage is called when a reader meets a page with a bad checksum.
	RecordCorruptedPage()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTableCommit(time.Duration, error)      {}
func (NoopMetricsCollector) RecordPageWrite(time.Duration, error)        {}
func (NoopMetricsCollector) RecordSectorClaim(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRelocation(time.Duration, error)       {}
func (NoopMetricsCollector) RecordCorruptedPage()                        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TableCommitCount      atomic.Int64
	TableCommitErrors     atomic.Int64
	TableCommitTotalNanos atomic.Int64
	PageWriteCount        atomic.Int64
	PageWriteErrors       atomic.Int64
	PageWriteTotalNanos   atomic.Int64
	EraseCount            atomic.Int64
	ErasedSectors         atomic.Int64
	EraseErrors           atomic.Int64
	RelocationCount       atomic.Int64
	RelocationErrors      atomic.Int64
	CorruptedPages        atomic.Int64
}

// RecordTableCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTableCommit(duration time.Duration, err error) {
	b.TableCommitCount.Add(1)
	b.TableCommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TableCommitErrors.Add(1)
	}
}

// RecordPageWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPageWrite(duration time.Duration, err error) {
	b.PageWriteCount.Add(1)
	b.PageWriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PageWriteErrors.Add(1)
	}
}

// RecordSectorClaim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSectorClaim(sectors int, duration time.Duration, err error) {
	b.EraseCount.Add(1)
	if err != nil {
		b.EraseErrors.Add(1)
		return
	}
	b.ErasedSectors.Add(int64(sectors))
}

// RecordRelocation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelocation(duration time.Duration, err error) {
	b.RelocationCount.Add(1)
	if err != nil {
		b.RelocationErrors.Add(1)
	}
}

// RecordCorruptedPage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCorruptedPage() {
	b.CorruptedPages.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TableCommitCount:    b.TableCommitCount.Load(),
		TableCommitErrors:   b.TableCommitErrors.Load(),
		TableCommitAvgNanos: avg(b.TableCommitTotalNanos.Load(), b.TableCommitCount.Load()),
		PageWriteCount:      b.PageWriteCount.Load(),
		PageWriteErrors:     b.PageWriteErrors.Load(),
		PageWriteAvgNanos:   avg(b.PageWriteTotalNanos.Load(), b.PageWriteCount.Load()),
		EraseCount:          b.EraseCount.Load(),
		ErasedSectors:       b.ErasedSectors.Load(),
		EraseErrors:         b.EraseErrors.Load(),
		RelocationCount:     b.RelocationCount.Load(),
		RelocationErrors:    b.RelocationErrors.Load(),
		CorruptedPages:      b.CorruptedPages.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	TableCommitCount    int64
	TableCommitErrors   int64
	TableCommitAvgNanos int64
	PageWriteCount      int64
	PageWriteErrors     int64
	PageWriteAvgNanos   int64
	EraseCount          int64
	ErasedSectors       int64
	EraseErrors         int64
	RelocationCount     int64
	RelocationErrors    int64
	CorruptedPages      int64
}
