package parsers

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// SISAIHStats counts what happened to each line of one or more extracts.
type SISAIHStats struct {
	Files      []string                  `json:"files" yaml:"files"`
	Lines      int                       `json:"lines" yaml:"lines"`
	BlankLines int                       `json:"blank_lines" yaml:"blank_lines"`
	Records    int                       `json:"records" yaml:"records"`
	Skipped    map[SkipReason]int        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ByType     map[models.RecordType]int `json:"by_type,omitempty" yaml:"by_type,omitempty"`
}

// NewSISAIHStats creates empty statistics
func NewSISAIHStats() *SISAIHStats {
	return &SISAIHStats{
		Skipped: make(map[SkipReason]int),
		ByType:  make(map[models.RecordType]int),
	}
}

// Merge adds other's counts to s.
func (s *SISAIHStats) Merge(other *SISAIHStats) {
	if other == nil {
		return
	}
	s.Files = append(s.Files, other.Files...)
	s.Lines += other.Lines
	s.BlankLines += other.BlankLines
	s.Records += other.Records
	for k, v := range other.Skipped {
		s.Skipped[k] += v
	}
	for k, v := range other.ByType {
		s.ByType[k] += v
	}
}

// SkippedTotal returns the number of skipped lines across all reasons.
func (s *SISAIHStats) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// String returns a human-readable summary of the statistics
func (s *SISAIHStats) String() string {
	return fmt.Sprintf("Read %d lines from %d file(s): %d records, %d skipped, %d blank",
		s.Lines, len(s.Files), s.Records, s.SkippedTotal(), s.BlankLines)
}

// SISAIHReader reads SISAIH01 extracts from files or streams.
type SISAIHReader struct {
	config *SISAIHConfig
	parser *FixedWidthParser
	logger logger.Logger
}

// NewSISAIHReader creates a reader. A nil config uses DefaultSISAIHConfig.
func NewSISAIHReader(config *SISAIHConfig, log logger.Logger) (*SISAIHReader, error) {
	if config == nil {
		config = DefaultSISAIHConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sisaih", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &SISAIHReader{
		config: config,
		parser: NewFixedWidthParser(config.StrictLength),
		logger: log.WithComponent("sisaih_reader"),
	}, nil
}

// ReadFile reads every retained record of one extract.
func (r *SISAIHReader) ReadFile(ctx context.Context, path string) ([]*models.AIHRecord, *SISAIHStats, error) {
	file, err := openInput(path)
	if err != nil {
		r.logger.WithError(err).WithField(logger.FieldFile, path).Error("Failed to open SISAIH01 file")
		return nil, nil, err
	}
	defer file.Close()

	records, stats, err := r.Read(ctx, file, path)
	if err != nil {
		return nil, stats, err
	}
	return records, stats, nil
}

// Read reads every retained record from src. name labels logs and stats.
func (r *SISAIHReader) Read(ctx context.Context, src io.Reader, name string) ([]*models.AIHRecord, *SISAIHStats, error) {
	var records []*models.AIHRecord
	stats, err := r.Stream(ctx, src, name, func(batch []*models.AIHRecord) error {
		records = append(records, batch...)
		return nil
	})
	return records, stats, err
}

// ParseFiles reads several extracts concurrently, at most MaxConcurrency at a
// time, and returns their records in the order the paths were given. The
// first failure cancels the remaining reads.
func (r *SISAIHReader) ParseFiles(ctx context.Context, paths []string) ([]*models.AIHRecord, *SISAIHStats, error) {
	results := make([][]*models.AIHRecord, len(paths))
	perFile := make([]*SISAIHStats, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			records, stats, err := r.ReadFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = records
			perFile[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	total := NewSISAIHStats()
	var merged []*models.AIHRecord
	for i := range paths {
		merged = append(merged, results[i]...)
		total.Merge(perFile[i])
	}

	r.logger.WithFields(logger.Fields{
		"files":   len(paths),
		"records": total.Records,
		"skipped": total.SkippedTotal(),
	}).Info("SISAIH01 extracts loaded")

	return merged, total, nil
}

// SkipReasons returns the skip reasons present in stats in a stable order.
func (s *SISAIHStats) SkipReasons() []SkipReason {
	reasons := make([]SkipReason, 0, len(s.Skipped))
	for reason := range s.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return reasons
}

func openInput(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err == nil {
		return file, nil
	}
	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
}
