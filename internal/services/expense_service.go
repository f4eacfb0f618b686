package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/amqp"
	"gastos/internal/attachments"
	"gastos/internal/core"
	applog "gastos/internal/log"
	"gastos/internal/report"
)

// ExpenseService records expenses together with their files and serves the
// ledger back out. It owns the rule that a failed submission leaves neither
// rows nor bytes behind.
type ExpenseService struct {
	ledger      Ledger
	files       FileStore
	publisher   EventPublisher
	invalidator Invalidator
	linkTTL     time.Duration
	logger      *applog.Logger
}

type ExpenseServiceOptions struct {
	Publisher   EventPublisher
	Invalidator Invalidator
	LinkTTL     time.Duration
	Logger      *applog.Logger
}

func NewExpenseService(ledger Ledger, files FileStore, opts ExpenseServiceOptions) *ExpenseService {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &ExpenseService{
		ledger:      ledger,
		files:       files,
		publisher:   opts.Publisher,
		invalidator: opts.Invalidator,
		linkTTL:     opts.LinkTTL,
		logger:      logger.WithComponent(applog.ComponentExpense),
	}
}

// SubmitExpense validates e and uploads, then records the expense and
// stores every file as one unit.
func (s *ExpenseService) SubmitExpense(ctx context.Context, e core.Expense, uploads []core.Upload) (core.Expense, []core.Attachment, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, nil, err
	}
	for _, u := range uploads {
		if err := u.Validate(); err != nil {
			return core.Expense{}, nil, err
		}
	}

	var stored []string
	attach := func(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
		out := make([]core.Attachment, 0, len(uploads))
		for _, u := range uploads {
			a, err := s.files.Save(ctx, expenseID, u)
			if err != nil {
				return nil, err
			}
			stored = append(stored, a.Key)
			out = append(out, a)
		}
		return out, nil
	}

	recorded, atts, err := s.ledger.RecordExpense(ctx, e, attach)
	if err != nil {
		if len(stored) > 0 {
			s.removeFiles(context.WithoutCancel(ctx), stored)
		}
		if errors.Is(err, core.ErrStorageFailure) {
			s.logger.LogError(ctx, "Expense submission aborted", err, applog.OpRecord,
				applog.NewFields().WithExpense(0, e.ServiceOrderID, e.SpentAmount.Cents, e.BillAmount.Cents, e.Date.String()))
		}
		return core.Expense{}, nil, err
	}

	s.purge()
	s.logger.InfoContext(ctx, "Expense submitted",
		applog.NewFields().
			WithExpense(recorded.ID, recorded.ServiceOrderID, recorded.SpentAmount.Cents, recorded.BillAmount.Cents, recorded.Date.String()).
			WithOperation(applog.OpRecord).ToSlice()...)
	s.publish(ctx, amqp.NewExpenseRecorded(recorded, atts))
	return recorded, atts, nil
}

// removeFiles deletes blobs concurrently. Failures are logged only: the
// rows referencing them are already gone.
func (s *ExpenseService) removeFiles(ctx context.Context, keys []string) {
	var g errgroup.Group
	g.SetLimit(4)
	for _, key := range keys {
		g.Go(func() error {
			if err := s.files.Delete(ctx, key); err != nil {
				s.logger.LogError(ctx, "Failed to remove attachment", err, applog.OpDelete,
					applog.NewFields().WithAttachmentKey(key))
				return err
			}
			return nil
		})
	}
	g.Wait()
}

func (s *ExpenseService) publish(ctx context.Context, msg *amqp.ExpenseEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher configured, skipping", applog.FieldEventType, msg.Type)
		return
	}
	if err := s.publisher.PublishExpenseEvent(ctx, msg); err != nil {
		// The ledger is the source of truth; a missed event only delays the export.
		s.logger.LogError(ctx, "Failed to publish expense event", err, applog.OpPublish,
			applog.NewFields().WithExpense(msg.ExpenseID, msg.ServiceOrderID, msg.SpentAmount.Cents, msg.BillAmount.Cents, msg.Date.String()))
	}
}

func (s *ExpenseService) purge() {
	if s.invalidator != nil {
		s.invalidator.Purge()
	}
}

func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return s.ledger.GetExpense(ctx, id)
}

func (s *ExpenseService) ListExpenses(ctx context.Context, f core.ExpenseFilter) ([]core.Expense, error) {
	return s.ledger.ListExpenses(ctx, f)
}

func (s *ExpenseService) ListExpensesFull(ctx context.Context, f core.ExpenseFilter) ([]core.ExpenseWithAttachments, error) {
	return s.ledger.ListExpensesWithAttachments(ctx, f)
}

func (s *ExpenseService) ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
	if _, err := s.ledger.GetExpense(ctx, expenseID); err != nil {
		return nil, err
	}
	return s.ledger.ListAttachments(ctx, expenseID)
}

// DeleteExpense removes the expense, its attachment rows and their bytes.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	e, atts, err := s.ledger.DeleteExpense(ctx, id)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(atts))
	for _, a := range atts {
		keys = append(keys, a.Key)
	}
	s.removeFiles(context.WithoutCancel(ctx), keys)
	s.purge()
	s.publish(ctx, amqp.NewExpenseDeleted(e, atts))
	return nil
}

// DownloadLink issues a signed link for an attachment the ledger knows.
func (s *ExpenseService) DownloadLink(ctx context.Context, key string) (attachments.SignedLink, error) {
	if _, err := s.ledger.GetAttachment(ctx, key); err != nil {
		return attachments.SignedLink{}, err
	}
	link, err := s.files.SignedURL(ctx, key, s.linkTTL)
	if err != nil {
		return attachments.SignedLink{}, err
	}
	s.logger.InfoContext(ctx, "Download link issued",
		applog.FieldAttachmentKey, key,
		applog.FieldOperation, applog.OpSign,
		"expires_at", link.ExpiresAt)
	return link, nil
}

// OpenSignedFile resolves a link token. Links to attachments that were
// deleted fail the same way as expired ones.
func (s *ExpenseService) OpenSignedFile(ctx context.Context, token string) (core.Attachment, io.ReadCloser, error) {
	key, err := s.files.Resolve(ctx, token)
	if err != nil {
		return core.Attachment{}, nil, err
	}
	a, err := s.ledger.GetAttachment(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return core.Attachment{}, nil, fmt.Errorf("attachment %q: %w", key, core.ErrExpiredOrUnknownLink)
	}
	if err != nil {
		return core.Attachment{}, nil, err
	}
	rc, err := s.files.Open(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return core.Attachment{}, nil, fmt.Errorf("attachment %q: %w", key, core.ErrExpiredOrUnknownLink)
	}
	if err != nil {
		return core.Attachment{}, nil, fmt.Errorf("%w: open %s: %w", core.ErrStorageFailure, key, err)
	}
	return a, rc, nil
}

// MarkCollected confirms the order exists and returns it with its
// collected flag, which the ledger derives from recorded expenses.
func (s *ExpenseService) MarkCollected(ctx context.Context, serviceOrderID int64) (core.ServiceOrder, error) {
	o, err := s.ledger.GetServiceOrder(ctx, serviceOrderID)
	if err != nil {
		return core.ServiceOrder{}, err
	}
	if !o.Collected {
		s.logger.InfoContext(ctx, "Service order has no expenses yet",
			applog.FieldServiceOrderID, serviceOrderID)
	}
	return o, nil
}

// ServiceOrderSummary totals one order across the whole ledger.
func (s *ExpenseService) ServiceOrderSummary(ctx context.Context, serviceOrderID int64) (core.ServiceOrderTotal, error) {
	o, err := s.ledger.GetServiceOrder(ctx, serviceOrderID)
	if err != nil {
		return core.ServiceOrderTotal{}, err
	}
	expenses, err := s.ledger.ListExpenses(ctx, core.ExpenseFilter{ServiceOrderID: serviceOrderID})
	if err != nil {
		return core.ServiceOrderTotal{}, err
	}
	t := report.TotalByServiceOrder(expenses)[serviceOrderID]
	return core.ServiceOrderTotal{
		ServiceOrderID: o.ID,
		Number:         o.Number,
		BillableAmount: o.BillableAmount,
		Spent:          t.Spent,
		Billable:       t.Billable,
		Percentage:     t.Percentage(),
		ExpenseCount:   t.Count,
	}, nil
}
