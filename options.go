package norfs

import (
	"log/slog"

	"github.com/hupe1980/norfs/checksum"
)

const (
	// DefaultWriteQueueSize is the default capacity of the page write queue.
	DefaultWriteQueueSize = 64
	// DefaultMaxOpenFiles is the default limit of concurrently open handles.
	DefaultMaxOpenFiles = 32
	// DefaultSeed seeds the wear-levelling generator.
	DefaultSeed = 0x6e6f7266
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	checksum         checksum.Checksum
	writeQueueSize   int
	maxOpenFiles     int
	seed             uint64
}

// Option configures Mount behavior.
type Option func(*options)

// WithChecksum configures the checksum capability protecting pages and table
// generations. A filesystem must always be mounted with the checksum it was
// written with.
//
// If nil is passed, checksum.NewCRC32C() is used.
func WithChecksum(c checksum.Checksum) Option {
	return func(o *options) {
		if c == nil {
			c = checksum.NewCRC32C()
		}
		o.checksum = c
	}
}

// WithWriteQueueSize configures the number of pages that may wait for the
// flash executor. When the queue is full, writes return ErrWriteQueueFull.
func WithWriteQueueSize(n int) Option {
	return func(o *options) {
		o.writeQueueSize = n
	}
}

// WithMaxOpenFiles limits the number of concurrently open readers and writers.
func WithMaxOpenFiles(n int) Option {
	return func(o *options) {
		o.maxOpenFiles = n
	}
}

// WithSeed seeds the generator choosing where sector allocation starts.
// The same seed on the same image yields the same allocation order.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &norfs.BasicMetricsCollector{}
//	fs, _ := norfs.Mount(ctx, dev, norfs.WithMetricsCollector(metrics))
//	// ... use fs ...
//	stats := metrics.GetStats()
//	fmt.Printf("Pages: %d, Avg latency: %dns\n", stats.PageWriteCount, stats.PageWriteAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := norfs.NewJSONLogger(slog.LevelInfo)
//	fs, _ := norfs.Mount(ctx, dev, norfs.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		checksum:         checksum.NewCRC32C(),
		writeQueueSize:   DefaultWriteQueueSize,
		maxOpenFiles:     DefaultMaxOpenFiles,
		seed:             DefaultSeed,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.writeQueueSize < 1 {
		o.writeQueueSize = 1
	}
	if o.maxOpenFiles < 1 {
		o.maxOpenFiles = 1
	}
	return o
}
