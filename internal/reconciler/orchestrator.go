package reconciler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// Orchestrator runs several reconciliation requests, for instance one per
// competence or per hospital, in parallel on one Service. Each request is
// independent; the first failure cancels the remaining ones.
type Orchestrator struct {
	service *Service
	logger  logger.Logger
	limit   int

	// Progress tracking
	progressCallbacks []ProgressCallback
	currentProgress   *Progress
	progressMutex     sync.Mutex
}

// Progress reports how far a batch of runs has gone.
type Progress struct {
	TotalRuns       int           `json:"total_runs"`
	CompletedRuns   int           `json:"completed_runs"`
	CurrentRun      string        `json:"current_run"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after each completed run. Callbacks are
// invoked one at a time.
type ProgressCallback func(Progress)

// NewOrchestrator creates an orchestrator bounded by the service's
// MaxConcurrentRuns.
func NewOrchestrator(service *Service) (*Orchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_service", nil, nil).
			WithSuggestion("Provide a valid Service instance")
	}

	return &Orchestrator{
		service:         service,
		logger:          service.logger.WithComponent("reconciliation_orchestrator"),
		limit:           service.config.MaxConcurrentRuns,
		currentProgress: &Progress{},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// RunSyncBatch runs every sync request and returns the reports in request order.
func (o *Orchestrator) RunSyncBatch(ctx context.Context, requests []*SyncRequest) ([]*SyncReport, error) {
	reports := make([]*SyncReport, len(requests))
	err := o.run(ctx, len(requests), func(gctx context.Context, i int) (string, error) {
		report, err := o.service.RunSync(gctx, requests[i])
		if err != nil {
			return requests[i].Label, err
		}
		reports[i] = report
		return requests[i].Label, nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// RunAuditBatch runs every audit request and returns the reports in request order.
func (o *Orchestrator) RunAuditBatch(ctx context.Context, requests []*AuditRequest) ([]*AuditReport, error) {
	reports := make([]*AuditReport, len(requests))
	err := o.run(ctx, len(requests), func(gctx context.Context, i int) (string, error) {
		report, err := o.service.RunAudit(gctx, requests[i])
		if err != nil {
			return requests[i].Label, err
		}
		reports[i] = report
		return requests[i].Label, nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func (o *Orchestrator) run(ctx context.Context, n int, fn func(context.Context, int) (string, error)) error {
	if n == 0 {
		return nil
	}

	o.initializeProgress(n)
	o.logger.WithFields(logger.Fields{
		"runs":        n,
		"concurrency": o.limit,
	}).Info("Starting reconciliation batch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			label, err := fn(gctx, i)
			if err != nil {
				o.logger.WithError(err).WithField("label", label).Error("Reconciliation run failed")
				return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError,
					"reconciliation run failed")
			}
			o.completeRun(label)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.logger.WithField("elapsed_time", o.Progress().ElapsedTime.String()).Info("Reconciliation batch completed")
	return nil
}

func (o *Orchestrator) initializeProgress(total int) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.currentProgress = &Progress{
		TotalRuns: total,
		StartTime: time.Now(),
	}
}

func (o *Orchestrator) completeRun(label string) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	p := o.currentProgress
	p.CompletedRuns++
	p.CurrentRun = label
	p.ElapsedTime = time.Since(p.StartTime)
	p.PercentComplete = float64(p.CompletedRuns) / float64(p.TotalRuns) * 100

	for _, callback := range o.progressCallbacks {
		callback(*p)
	}
}

// Progress returns a snapshot of the current batch progress.
func (o *Orchestrator) Progress() Progress {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	return *o.currentProgress
}
