package http

import (
	"context"
	"net/http"

	"gastos/internal/core"
)

// CatalogAPI is the entity management the handlers need.
type CatalogAPI interface {
	CreateBank(ctx context.Context, b core.Bank) (core.Bank, error)
	ListBanks(ctx context.Context) ([]core.Bank, error)
	GetBank(ctx context.Context, id int64) (core.Bank, error)
	UpdateBank(ctx context.Context, id int64, b core.Bank) (core.Bank, error)
	DeleteBank(ctx context.Context, id int64) error

	CreateProvider(ctx context.Context, p core.Provider) (core.Provider, error)
	ListProviders(ctx context.Context) ([]core.Provider, error)
	GetProvider(ctx context.Context, id int64) (core.Provider, error)
	UpdateProvider(ctx context.Context, id int64, p core.Provider) (core.Provider, error)
	DeleteProvider(ctx context.Context, id int64) error

	CreateServiceOrder(ctx context.Context, o core.ServiceOrder) (core.ServiceOrder, error)
	ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error)
	GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error)
	UpdateServiceOrder(ctx context.Context, id int64, o core.ServiceOrder) (core.ServiceOrder, error)
	DeleteServiceOrder(ctx context.Context, id int64) error
}

// entityHandlers wires the five CRUD routes of one catalog entity. T is the
// entity type; its ID is assigned by the store.
type entityHandlers[T any] struct {
	create func(context.Context, T) (T, error)
	list   func(context.Context) ([]T, error)
	get    func(context.Context, int64) (T, error)
	update func(context.Context, int64, T) (T, error)
	delete func(context.Context, int64) error
}

func (h entityHandlers[T]) register(mux *http.ServeMux, base string, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("POST "+base, wrap(h.handleCreate))
	mux.Handle("GET "+base, wrap(h.handleList))
	mux.Handle("GET "+base+"/{id}", wrap(h.handleGet))
	mux.Handle("PUT "+base+"/{id}", wrap(h.handleUpdate))
	mux.Handle("DELETE "+base+"/{id}", wrap(h.handleDelete))
}

func (h entityHandlers[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in T
	if err := DecodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h entityHandlers[T]) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.list(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h entityHandlers[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h entityHandlers[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in T
	if err := DecodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h entityHandlers[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) registerCatalog(mux *http.ServeMux) {
	c := s.catalog
	entityHandlers[core.Bank]{c.CreateBank, c.ListBanks, c.GetBank, c.UpdateBank, c.DeleteBank}.
		register(mux, "/api/banks", s.wrap)
	entityHandlers[core.Provider]{c.CreateProvider, c.ListProviders, c.GetProvider, c.UpdateProvider, c.DeleteProvider}.
		register(mux, "/api/providers", s.wrap)
	entityHandlers[core.ServiceOrder]{c.CreateServiceOrder, c.ListServiceOrders, c.GetServiceOrder, c.UpdateServiceOrder, c.DeleteServiceOrder}.
		register(mux, "/api/service-orders", s.wrap)
}
