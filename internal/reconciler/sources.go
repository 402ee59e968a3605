package reconciler

import (
	"context"
	"sync"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
)

// AIHSource loads the authorizations the internal system knows for a
// competence. An empty competence loads everything.
type AIHSource interface {
	LoadAIHs(ctx context.Context, competence string) ([]*models.AIHRecord, error)
	Describe() string
}

// ProcedureSource loads the procedure rows the internal system billed for a
// competence. An empty competence loads everything.
type ProcedureSource interface {
	LoadProcedures(ctx context.Context, competence string) ([]*models.SystemProcedureRecord, error)
	Describe() string
}

// FileAIHSource reads internal authorizations from a CSV export. The
// competence is applied later by the preprocessor.
type FileAIHSource struct {
	Path   string
	Parser *parsers.SystemParser

	mu    sync.Mutex
	stats *parsers.ParseStats
}

// NewFileAIHSource creates a source over the export at path.
func NewFileAIHSource(path string, parser *parsers.SystemParser) *FileAIHSource {
	return &FileAIHSource{Path: path, Parser: parser}
}

// LoadAIHs implements AIHSource.
func (s *FileAIHSource) LoadAIHs(ctx context.Context, _ string) ([]*models.AIHRecord, error) {
	records, stats, err := s.Parser.ParseAIHs(ctx, s.Path)
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
	return records, err
}

// Stats returns the parse statistics of the last load.
func (s *FileAIHSource) Stats() *parsers.ParseStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Describe implements AIHSource.
func (s *FileAIHSource) Describe() string {
	return "file:" + s.Path
}

// FileProcedureSource reads billed procedures from a CSV export.
type FileProcedureSource struct {
	Path   string
	Parser *parsers.SystemParser

	mu    sync.Mutex
	stats *parsers.ParseStats
}

// NewFileProcedureSource creates a source over the export at path.
func NewFileProcedureSource(path string, parser *parsers.SystemParser) *FileProcedureSource {
	return &FileProcedureSource{Path: path, Parser: parser}
}

// LoadProcedures implements ProcedureSource.
func (s *FileProcedureSource) LoadProcedures(ctx context.Context, _ string) ([]*models.SystemProcedureRecord, error) {
	rows, stats, err := s.Parser.ParseProcedures(ctx, s.Path)
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
	return rows, err
}

// Stats returns the parse statistics of the last load.
func (s *FileProcedureSource) Stats() *parsers.ParseStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Describe implements ProcedureSource.
func (s *FileProcedureSource) Describe() string {
	return "file:" + s.Path
}

// statsReporter is implemented by sources that parse files.
type statsReporter interface {
	Stats() *parsers.ParseStats
}

func sourceStats(source interface{}) *parsers.ParseStats {
	if sr, ok := source.(statsReporter); ok {
		return sr.Stats()
	}
	return nil
}
