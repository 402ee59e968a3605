package reconciler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// maxLoggedCollisions bounds the per-key collision warnings of one run.
const maxLoggedCollisions = 20

func (s *Service) preprocessor(competence, facility string) (*DataPreprocessor, error) {
	return NewDataPreprocessor(&PreprocessingConfig{
		Competence:      competence,
		FacilityCode:    facility,
		ValidateRecords: s.config.ValidateInputs,
	})
}

// loadSyncInputs loads the internal side and parses the extracts concurrently.
func (s *Service) loadSyncInputs(
	ctx context.Context,
	request *SyncRequest,
	competence string,
) ([]*models.AIHRecord, []*models.AIHRecord, *parsers.SISAIHStats, error) {
	var (
		internal []*models.AIHRecord
		external []*models.AIHRecord
		extStats *parsers.SISAIHStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := request.Internal.LoadAIHs(gctx, competence)
		if err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError,
				"failed to load internal authorizations from "+request.Internal.Describe())
		}
		internal = records
		return nil
	})
	g.Go(func() error {
		records, stats, err := s.sisaih.ParseFiles(gctx, request.ExternalFiles)
		if err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError,
				"failed to read SISAIH01 extracts")
		}
		external, extStats = records, stats
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).Error("Failed to load sync inputs")
		return nil, nil, nil, err
	}

	s.logger.WithFields(logger.Fields{
		"internal_records": len(internal),
		"external_records": len(external),
	}).Debug("Sync inputs loaded")

	return internal, external, extStats, nil
}

// loadAuditInputs parses the audit export and loads the system rows concurrently.
func (s *Service) loadAuditInputs(
	ctx context.Context,
	request *AuditRequest,
	competence string,
) ([]*models.PayerAuditRecord, *parsers.ParseStats, []*models.SystemProcedureRecord, error) {
	var (
		auditRows  []*models.PayerAuditRecord
		auditStats *parsers.ParseStats
		systemRows []*models.SystemProcedureRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, stats, err := s.audit.ParseAudit(gctx, request.AuditFile)
		if err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError,
				"failed to read audit export "+request.AuditFile)
		}
		auditRows, auditStats = rows, stats
		return nil
	})
	g.Go(func() error {
		rows, err := request.System.LoadProcedures(gctx, competence)
		if err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError,
				"failed to load system procedures from "+request.System.Describe())
		}
		systemRows = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).Error("Failed to load audit inputs")
		return nil, nil, nil, err
	}

	s.logger.WithFields(logger.Fields{
		"audit_rows":  len(auditRows),
		"system_rows": len(systemRows),
	}).Debug("Audit inputs loaded")

	return auditRows, auditStats, systemRows, nil
}

// annotate resolves the procedures of an audit result against a catalog file.
func (s *Service) annotate(ctx context.Context, catalogFile string, report *AuditReport) error {
	catalog, _, err := s.catalog.ParseCatalog(ctx, catalogFile)
	if err != nil {
		return err
	}

	config := matcher.DefaultMatcherConfig()
	config.SimilarityThreshold = s.config.Policy.SimilarityThreshold

	var opts []matcher.Option
	if cache := s.catalogCache(catalogFile); cache != nil {
		opts = append(opts, matcher.WithCache(cache))
	}
	pm, err := matcher.NewProcedureMatcher(catalog, config, opts...)
	if err != nil {
		return err
	}

	diagnostics := pm.Diagnostics()
	if !diagnostics.Clean() {
		s.logger.WithFields(logger.Fields{
			"catalog":          catalogFile,
			"duplicate_codes":  diagnostics.DuplicateCodes,
			"code_collisions":  diagnostics.NormalizedCollision,
			"same_description": diagnostics.SameDescriptions,
		}).Warn("Procedure catalog has ambiguous entries")
	}

	report.Annotations = DescribeAudit(report.Result, pm)
	summary := report.Annotations.Summary()
	report.MatchSummary = &summary
	report.CatalogDiagnostics = diagnostics
	return nil
}

// catalogCache returns the cache shared by audit runs over catalogFile, or
// nil when caching is disabled.
func (s *Service) catalogCache(catalogFile string) *matcher.Cache {
	if !s.config.CatalogCache {
		return nil
	}

	s.cachesMu.Lock()
	defer s.cachesMu.Unlock()

	if s.caches == nil {
		s.caches = make(map[string]*matcher.Cache)
	}
	cache, ok := s.caches[catalogFile]
	if !ok {
		cache = matcher.NewCache()
		s.caches[catalogFile] = cache
	}
	return cache
}

// logCollisions warns about keys held by several records of one side.
func (s *Service) logCollisions(log logger.Logger, result *SetResult) {
	diag := result.Diagnostics
	if diag.CollisionsInternal == 0 && diag.CollisionsExternal == 0 {
		return
	}

	log.WithFields(logger.Fields{
		"collisions_internal": diag.CollisionsInternal,
		"collisions_external": diag.CollisionsExternal,
		"keys":                len(diag.CollidingKeys),
	}).Warn("Duplicate authorization numbers found; keeping the most recent record")

	for i, key := range diag.CollidingKeys {
		if i == maxLoggedCollisions {
			log.Warnf("%d more colliding keys not shown", len(diag.CollidingKeys)-i)
			break
		}
		log.WithField("authorization", key).Warn("Authorization number collision")
	}
}
