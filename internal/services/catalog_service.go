package services

import (
	"context"

	"gastos/internal/core"
	applog "gastos/internal/log"
)

// CatalogService manages banks, providers and service orders. Every write
// invalidates cached reports since they list entity names.
type CatalogService struct {
	store       Catalog
	invalidator Invalidator
	logger      *applog.Logger
}

func NewCatalogService(store Catalog, invalidator Invalidator, logger *applog.Logger) *CatalogService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &CatalogService{
		store:       store,
		invalidator: invalidator,
		logger:      logger.WithComponent(applog.ComponentCatalog),
	}
}

func (s *CatalogService) changed(ctx context.Context, op, entity string, id int64, err error) {
	if err != nil {
		return
	}
	if s.invalidator != nil {
		s.invalidator.Purge()
	}
	s.logger.DebugContext(ctx, "Catalog changed", applog.FieldOperation, op, "entity", entity, "id", id)
}

func (s *CatalogService) CreateBank(ctx context.Context, b core.Bank) (core.Bank, error) {
	out, err := s.store.CreateBank(ctx, b)
	s.changed(ctx, applog.OpCreate, "bank", out.ID, err)
	return out, err
}

func (s *CatalogService) ListBanks(ctx context.Context) ([]core.Bank, error) {
	return s.store.ListBanks(ctx)
}

func (s *CatalogService) GetBank(ctx context.Context, id int64) (core.Bank, error) {
	return s.store.GetBank(ctx, id)
}

func (s *CatalogService) UpdateBank(ctx context.Context, id int64, b core.Bank) (core.Bank, error) {
	out, err := s.store.UpdateBank(ctx, id, b)
	s.changed(ctx, applog.OpUpdate, "bank", id, err)
	return out, err
}

func (s *CatalogService) DeleteBank(ctx context.Context, id int64) error {
	err := s.store.DeleteBank(ctx, id)
	s.changed(ctx, applog.OpDelete, "bank", id, err)
	return err
}

func (s *CatalogService) CreateProvider(ctx context.Context, p core.Provider) (core.Provider, error) {
	out, err := s.store.CreateProvider(ctx, p)
	s.changed(ctx, applog.OpCreate, "provider", out.ID, err)
	return out, err
}

func (s *CatalogService) ListProviders(ctx context.Context) ([]core.Provider, error) {
	return s.store.ListProviders(ctx)
}

func (s *CatalogService) GetProvider(ctx context.Context, id int64) (core.Provider, error) {
	return s.store.GetProvider(ctx, id)
}

func (s *CatalogService) UpdateProvider(ctx context.Context, id int64, p core.Provider) (core.Provider, error) {
	out, err := s.store.UpdateProvider(ctx, id, p)
	s.changed(ctx, applog.OpUpdate, "provider", id, err)
	return out, err
}

func (s *CatalogService) DeleteProvider(ctx context.Context, id int64) error {
	err := s.store.DeleteProvider(ctx, id)
	s.changed(ctx, applog.OpDelete, "provider", id, err)
	return err
}

func (s *CatalogService) CreateServiceOrder(ctx context.Context, o core.ServiceOrder) (core.ServiceOrder, error) {
	out, err := s.store.CreateServiceOrder(ctx, o)
	s.changed(ctx, applog.OpCreate, "service_order", out.ID, err)
	return out, err
}

func (s *CatalogService) ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error) {
	return s.store.ListServiceOrders(ctx)
}

func (s *CatalogService) GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error) {
	return s.store.GetServiceOrder(ctx, id)
}

func (s *CatalogService) UpdateServiceOrder(ctx context.Context, id int64, o core.ServiceOrder) (core.ServiceOrder, error) {
	out, err := s.store.UpdateServiceOrder(ctx, id, o)
	s.changed(ctx, applog.OpUpdate, "service_order", id, err)
	return out, err
}

func (s *CatalogService) DeleteServiceOrder(ctx context.Context, id int64) error {
	err := s.store.DeleteServiceOrder(ctx, id)
	s.changed(ctx, applog.OpDelete, "service_order", id, err)
	return err
}
