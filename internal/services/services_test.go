package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/attachments"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ExpenseEvent
	err    error
}

func (p *recordingPublisher) PublishExpenseEvent(_ context.Context, msg *amqp.ExpenseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return p.err
}

type harness struct {
	repo      *storage.SQLiteRepository
	blobs     *attachments.MemoryBlobStore
	catalog   *CatalogService
	expenses  *ExpenseService
	reports   *ReportService
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "gastos.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	blobs := attachments.NewMemoryBlobStore()
	signer := attachments.NewSigner([]byte("test-secret-0123456789"), "http://localhost:8081", 15*time.Minute)
	files := attachments.NewStore(blobs, signer).WithKeyIndex(repo)

	reports := NewReportService(repo, cache.NewLRUCache[core.Report](8, time.Minute), nil)
	pub := &recordingPublisher{}
	return &harness{
		repo:      repo,
		blobs:     blobs,
		catalog:   NewCatalogService(repo, reports, nil),
		expenses:  NewExpenseService(repo, files, ExpenseServiceOptions{Publisher: pub, Invalidator: reports}),
		reports:   reports,
		publisher: pub,
	}
}

type seeded struct {
	order    core.ServiceOrder
	bank     core.Bank
	provider core.Provider
}

func (h *harness) seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	order, err := h.catalog.CreateServiceOrder(ctx, core.ServiceOrder{Number: "1001", BillableAmount: core.Money{Cents: 100000}})
	if err != nil {
		t.Fatalf("CreateServiceOrder: %v", err)
	}
	bank, err := h.catalog.CreateBank(ctx, core.Bank{Name: "Banorte"})
	if err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	provider, err := h.catalog.CreateProvider(ctx, core.Provider{Name: "Ferretería"})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	return seeded{order: order, bank: bank, provider: provider}
}

func (s seeded) expense(spent, bill int64, date core.Date) core.Expense {
	return core.Expense{
		ServiceOrderID: s.order.ID,
		BankID:         s.bank.ID,
		ProviderID:     s.provider.ID,
		SpentAmount:    core.Money{Cents: spent},
		BillAmount:     core.Money{Cents: bill},
		Date:           date,
	}
}

func invoice(name string) core.Upload {
	return core.Upload{Category: core.CategoryInvoice, Filename: name, Body: strings.NewReader("%PDF-1.4")}
}

func TestSubmitExpenseAndReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	e, atts, err := h.expenses.SubmitExpense(ctx, s.expense(40000, 100000, core.NewDate(2025, 1, 10)), []core.Upload{invoice("factura.pdf")})
	if err != nil {
		t.Fatalf("SubmitExpense: %v", err)
	}
	if len(atts) != 1 || !strings.HasPrefix(atts[0].Key, "1_invoice_") {
		t.Errorf("attachments = %+v", atts)
	}

	rep, err := h.reports.Report(ctx, core.DateRange{From: core.NewDate(2025, 1, 1), To: core.NewDate(2025, 1, 31)})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(rep.ByServiceOrder) != 1 {
		t.Fatalf("ByServiceOrder = %+v", rep.ByServiceOrder)
	}
	got := rep.ByServiceOrder[0]
	if got.ServiceOrderID != e.ServiceOrderID || got.Spent.Cents != 40000 || got.Billable.Cents != 100000 || got.Percentage.String() != "40.00" {
		t.Errorf("order total = %+v (percentage %s)", got, got.Percentage)
	}
	if rep.ByBank[0].Name != "Banorte" || rep.ByBank[0].Spent.Cents != 40000 {
		t.Errorf("ByBank = %+v", rep.ByBank)
	}
	if rep.AveragePercentage.String() != "40.00" {
		t.Errorf("AveragePercentage = %s", rep.AveragePercentage)
	}

	if len(h.publisher.events) != 1 || h.publisher.events[0].Type != amqp.EventExpenseRecorded {
		t.Errorf("events = %+v", h.publisher.events)
	}
}

func TestRejectedSubmissionLeavesFirstRecordAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	if _, _, err := h.expenses.SubmitExpense(ctx, s.expense(40000, 100000, core.NewDate(2025, 1, 10)), nil); err != nil {
		t.Fatalf("first SubmitExpense: %v", err)
	}
	// Zero is a valid bill amount (it reports N/A), so the malformed bill here
	// is a negative one.
	_, _, err := h.expenses.SubmitExpense(ctx, s.expense(10000, -1, core.NewDate(2025, 1, 11)), []core.Upload{invoice("x.pdf")})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("second SubmitExpense error = %v, want ErrInvalidAmount", err)
	}

	list, err := h.expenses.ListExpenses(ctx, core.ExpenseFilter{})
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ledger has %d expenses, want 1", len(list))
	}
	if h.blobs.Len() != 0 {
		t.Errorf("rejected submission stored %d blobs", h.blobs.Len())
	}

	rep, err := h.reports.Report(ctx, core.DateRange{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if p := rep.ByServiceOrder[0].Percentage.String(); p != "40.00" {
		t.Errorf("percentage = %s, want 40.00", p)
	}
}

func TestSubmitExpenseUnknownReference(t *testing.T) {
	h := newHarness(t)
	s := h.seed(t)
	e := s.expense(100, 100, core.NewDate(2025, 1, 1))
	e.ProviderID = 999

	_, _, err := h.expenses.SubmitExpense(context.Background(), e, []core.Upload{invoice("a.pdf")})
	if !errors.Is(err, core.ErrInvalidReference) {
		t.Fatalf("error = %v, want ErrInvalidReference", err)
	}
	if core.FieldOf(err) != "providerId" {
		t.Errorf("field = %q", core.FieldOf(err))
	}
	if h.blobs.Len() != 0 {
		t.Errorf("blobs left behind: %d", h.blobs.Len())
	}
}

func TestConcurrentSubmissionsLinkEveryAttachment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	const submissions = 16
	var wg sync.WaitGroup
	errs := make(chan error, submissions)
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uploads := []core.Upload{
				invoice("factura.pdf"),
				{Category: core.CategoryPaymentProof, Filename: "pago.png", Body: strings.NewReader("png")},
				{Category: core.CategoryPurchaseEvidence, Filename: "ticket.jpg", Body: strings.NewReader("jpg")},
			}
			_, atts, err := h.expenses.SubmitExpense(ctx, s.expense(int64(100*(i+1)), 100000, core.NewDate(2025, 2, 1)), uploads)
			if err == nil && len(atts) != 3 {
				err = errors.New("submission returned a partial attachment set")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SubmitExpense: %v", err)
		}
	}

	list, err := h.expenses.ListExpenses(ctx, core.ExpenseFilter{})
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(list) != submissions {
		t.Fatalf("ledger has %d expenses, want %d", len(list), submissions)
	}
	for _, e := range list {
		atts, err := h.expenses.ListAttachments(ctx, e.ID)
		if err != nil {
			t.Fatalf("ListAttachments(%d): %v", e.ID, err)
		}
		if len(atts) != 3 {
			t.Errorf("expense %d has %d attachments, want 3", e.ID, len(atts))
		}
		for _, a := range atts {
			if a.ExpenseID != e.ID {
				t.Errorf("attachment %q linked to expense %d, want %d", a.Key, a.ExpenseID, e.ID)
			}
		}
	}
	if h.blobs.Len() != 3*submissions {
		t.Errorf("stored %d blobs, want %d", h.blobs.Len(), 3*submissions)
	}
}

// flakyFiles fails the Nth save and records deletions.
type flakyFiles struct {
	FileStore
	failOn  int
	saves   int
	deleted []string
}

func (f *flakyFiles) Save(ctx context.Context, id int64, u core.Upload) (core.Attachment, error) {
	f.saves++
	if f.saves == f.failOn {
		return core.Attachment{}, core.ErrStorageFailure
	}
	return f.FileStore.Save(ctx, id, u)
}

func (f *flakyFiles) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.FileStore.Delete(ctx, key)
}

func TestStorageFailureRollsBackWholeSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	files := &flakyFiles{
		FileStore: attachments.NewStore(h.blobs, attachments.NewSigner([]byte("test-secret-0123456789"), "http://x", time.Minute)),
		failOn:    2,
	}
	svc := NewExpenseService(h.repo, files, ExpenseServiceOptions{})

	uploads := []core.Upload{
		invoice("a.pdf"),
		{Category: core.CategoryPaymentProof, Filename: "b.png", Body: strings.NewReader("png")},
	}
	_, _, err := svc.SubmitExpense(ctx, s.expense(1, 1, core.NewDate(2025, 2, 1)), uploads)
	if !errors.Is(err, core.ErrStorageFailure) {
		t.Fatalf("error = %v, want ErrStorageFailure", err)
	}

	list, err := h.repo.ListExpensesWithAttachments(ctx, core.ExpenseFilter{})
	if err != nil {
		t.Fatalf("ListExpensesWithAttachments: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("partial expense visible: %+v", list)
	}
	if len(files.deleted) != 1 || h.blobs.Len() != 0 {
		t.Errorf("deleted=%v blobs=%d, want the first file cleaned up", files.deleted, h.blobs.Len())
	}
}

func TestReportCacheInvalidatedByWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	first, err := h.reports.Report(ctx, core.DateRange{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if first.ExpenseCount != 0 {
		t.Fatalf("ExpenseCount = %d", first.ExpenseCount)
	}

	if _, _, err := h.expenses.SubmitExpense(ctx, s.expense(500, 1000, core.NewDate(2025, 1, 1)), nil); err != nil {
		t.Fatalf("SubmitExpense: %v", err)
	}
	second, err := h.reports.Report(ctx, core.DateRange{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if second.ExpenseCount != 1 || second.ByServiceOrder[0].Percentage.String() != "50.00" {
		t.Errorf("report after write = %+v", second)
	}

	if _, err := h.catalog.UpdateBank(ctx, s.bank.ID, core.Bank{Name: "Banorte Norte"}); err != nil {
		t.Fatalf("UpdateBank: %v", err)
	}
	third, _ := h.reports.Report(ctx, core.DateRange{})
	if third.ByBank[0].Name != "Banorte Norte" {
		t.Errorf("bank name = %q after rename", third.ByBank[0].Name)
	}
}

func TestReportRejectsInvertedRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.reports.Report(context.Background(), core.DateRange{From: core.NewDate(2025, 2, 1), To: core.NewDate(2025, 1, 1)})
	if !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("error = %v, want ErrInvalidDate", err)
	}
}

func TestDownloadLinkAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	e, atts, err := h.expenses.SubmitExpense(ctx, s.expense(1, 1, core.NewDate(2025, 1, 1)), []core.Upload{invoice("f.pdf")})
	if err != nil {
		t.Fatalf("SubmitExpense: %v", err)
	}
	link, err := h.expenses.DownloadLink(ctx, atts[0].Key)
	if err != nil {
		t.Fatalf("DownloadLink: %v", err)
	}
	token := link.URL[strings.LastIndex(link.URL, "/")+1:]

	a, rc, err := h.expenses.OpenSignedFile(ctx, token)
	if err != nil {
		t.Fatalf("OpenSignedFile: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if a.OriginalFilename != "f.pdf" || string(body) != "%PDF-1.4" {
		t.Errorf("opened %+v with %q", a, body)
	}

	if _, err := h.expenses.DownloadLink(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DownloadLink(missing) error = %v, want ErrNotFound", err)
	}

	if err := h.catalog.DeleteServiceOrder(ctx, s.order.ID); !errors.Is(err, core.ErrConflict) {
		t.Errorf("DeleteServiceOrder error = %v, want ErrConflict", err)
	}
	orders, _ := h.catalog.ListServiceOrders(ctx)
	if len(orders) != 1 {
		t.Errorf("order should remain listed after blocked delete")
	}

	if err := h.expenses.DeleteExpense(ctx, e.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	if _, _, err := h.expenses.OpenSignedFile(ctx, token); !errors.Is(err, core.ErrExpiredOrUnknownLink) {
		t.Errorf("OpenSignedFile after delete error = %v, want ErrExpiredOrUnknownLink", err)
	}
	if h.blobs.Len() != 0 {
		t.Errorf("blobs after delete = %d", h.blobs.Len())
	}
	last := h.publisher.events[len(h.publisher.events)-1]
	if last.Type != amqp.EventExpenseDeleted || last.ExpenseID != e.ID {
		t.Errorf("last event = %+v", last)
	}
}

func TestMarkCollectedAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.seed(t)

	o, err := h.expenses.MarkCollected(ctx, s.order.ID)
	if err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if o.Collected {
		t.Error("order without expenses should not be collected")
	}

	for _, d := range []core.Date{core.NewDate(2024, 12, 31), core.NewDate(2025, 6, 1)} {
		if _, _, err := h.expenses.SubmitExpense(ctx, s.expense(25000, 50000, d), nil); err != nil {
			t.Fatalf("SubmitExpense: %v", err)
		}
	}
	o, err = h.expenses.MarkCollected(ctx, s.order.ID)
	if err != nil || !o.Collected {
		t.Errorf("MarkCollected = %+v, %v; want collected", o, err)
	}
	if _, err := h.expenses.MarkCollected(ctx, 404); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkCollected(404) error = %v", err)
	}

	sum, err := h.expenses.ServiceOrderSummary(ctx, s.order.ID)
	if err != nil {
		t.Fatalf("ServiceOrderSummary: %v", err)
	}
	if sum.Spent.Cents != 50000 || sum.Billable.Cents != 100000 || sum.ExpenseCount != 2 || sum.Percentage.String() != "50.00" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestPublishFailureDoesNotFailSubmission(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")
	s := h.seed(t)

	if _, _, err := h.expenses.SubmitExpense(context.Background(), s.expense(1, 1, core.NewDate(2025, 1, 1)), nil); err != nil {
		t.Fatalf("SubmitExpense: %v", err)
	}
}
