package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/cache"
	"gastos/internal/core"
	applog "gastos/internal/log"
	"gastos/internal/report"
)

// ReportService builds dated roll-ups and keeps recent ones cached. Cache
// keys include the store version, so a write never serves a stale report
// even before Purge runs.
type ReportService struct {
	source Snapshot
	cache  cache.Cache[core.Report]
	now    func() time.Time
	logger *applog.Logger
}

func NewReportService(source Snapshot, c cache.Cache[core.Report], logger *applog.Logger) *ReportService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &ReportService{
		source: source,
		cache:  c,
		now:    time.Now,
		logger: logger.WithComponent(applog.ComponentReport),
	}
}

// Purge drops every cached report.
func (s *ReportService) Purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

func cacheKey(version uint64, r core.DateRange) string {
	return fmt.Sprintf("%d|%s|%s", version, r.From.String(), r.To.String())
}

func (s *ReportService) Report(ctx context.Context, r core.DateRange) (core.Report, error) {
	if err := r.Validate(); err != nil {
		return core.Report{}, err
	}

	key := cacheKey(s.source.Version(), r)
	if s.cache != nil {
		if rep, ok := s.cache.Get(key); ok {
			return rep, nil
		}
	}

	// Expenses first: entities they reference cannot be deleted afterwards,
	// so the catalog read below always has their names.
	expenses, err := s.source.ListExpenses(ctx, core.ExpenseFilter{Range: r})
	if err != nil {
		return core.Report{}, err
	}

	var cat report.Catalog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cat.Banks, err = s.source.ListBanks(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cat.Providers, err = s.source.ListProviders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cat.ServiceOrders, err = s.source.ListServiceOrders(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.LogError(ctx, "Failed to load report snapshot", err, applog.OpReport, nil)
		return core.Report{}, err
	}

	rep := report.Join(report.Compute(expenses, r), cat, r, s.now().UTC())
	if s.cache != nil {
		s.cache.Set(key, rep)
	}
	s.logger.DebugContext(ctx, "Report computed",
		"from", r.From.String(),
		"to", r.To.String(),
		"expenses", rep.ExpenseCount)
	return rep, nil
}
