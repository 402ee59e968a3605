package logger

import (
	"fmt"
	"sync"
	"time"
)

// DefaultProgressInterval is used when ProgressConfig.LogInterval is zero.
const DefaultProgressInterval = 5 * time.Second

// ProgressConfig configures a ProgressTracker. Total may be zero when the
// size is not known up front, e.g. while streaming a SISAIH01 extract.
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Unit        string        `json:"unit"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// ProgressTracker counts processed units (lines, rows, files) and logs a
// progress record at most once per interval.
type ProgressTracker struct {
	config  ProgressConfig
	logger  Logger
	now     func() time.Time
	start   time.Time
	lastLog time.Time

	mu      sync.Mutex
	current int64
}

// NewProgressTracker creates a tracker and logs the start of the operation
// at debug level.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval <= 0 {
		config.LogInterval = DefaultProgressInterval
	}
	if config.Unit == "" {
		config.Unit = "items"
	}

	p := &ProgressTracker{
		config: config,
		logger: config.Logger.WithComponent("progress").WithField("operation", config.Operation),
		now:    time.Now,
	}
	p.start = p.now()
	p.lastLog = p.start

	p.logger.WithField("total", config.Total).Debug("Starting operation")
	return p
}

// Add records delta more processed units.
func (p *ProgressTracker) Add(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += delta
	now := p.now()
	if now.Sub(p.lastLog) < p.config.LogInterval {
		return
	}
	p.lastLog = now
	p.logger.WithFields(p.statsLocked(now).fields()).Info("Progress update")
}

// Increment records one processed unit.
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Complete logs the final counters.
func (p *ProgressTracker) Complete() {
	p.logger.WithFields(p.GetStats().fields()).Info("Operation completed")
}

// CompleteWithError logs the final counters together with the failure.
func (p *ProgressTracker) CompleteWithError(err error) {
	p.logger.WithError(err).WithFields(p.GetStats().fields()).Error("Operation completed with error")
}

// GetStats returns a snapshot of the counters.
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked(p.now())
}

func (p *ProgressTracker) statsLocked(now time.Time) ProgressStats {
	stats := ProgressStats{
		Operation: p.config.Operation,
		Unit:      p.config.Unit,
		Total:     p.config.Total,
		Current:   p.current,
		Duration:  now.Sub(p.start),
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.Rate = float64(p.current) / secs
	}
	if stats.Total > 0 {
		stats.Percentage = float64(p.current) / float64(stats.Total) * 100
		if stats.Rate > 0 && p.current < stats.Total {
			stats.ETA = time.Duration(float64(stats.Total-p.current) / stats.Rate * float64(time.Second))
		}
	}
	return stats
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Unit       string        `json:"unit"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
	ETA        time.Duration `json:"eta,omitempty"`
}

func (ps ProgressStats) fields() Fields {
	fields := Fields{
		"processed": ps.Current,
		"unit":      ps.Unit,
		"duration":  ps.Duration.Round(time.Millisecond).String(),
		"rate":      fmt.Sprintf("%.2f %s/sec", ps.Rate, ps.Unit),
	}
	if ps.Total > 0 {
		fields["total"] = ps.Total
		fields["percentage"] = fmt.Sprintf("%.1f%%", ps.Percentage)
	}
	return fields
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d %s (%.1f%%), ETA %v",
			ps.Operation, ps.Current, ps.Total, ps.Unit, ps.Percentage, ps.ETA.Round(time.Second))
	}
	return fmt.Sprintf("%s: %d %s in %v", ps.Operation, ps.Current, ps.Unit, ps.Duration.Round(time.Millisecond))
}

// TimedOperation runs fn and logs its duration and outcome.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	start := time.Now()
	err := fn()

	log := logger.WithFields(Fields{
		"operation": operation,
		"duration":  time.Since(start).Round(time.Millisecond).String(),
	})
	if err != nil {
		log.WithError(err).Error("Operation failed")
		return err
	}
	log.Info("Operation completed")
	return nil
}
