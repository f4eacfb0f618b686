package http

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"gastos/internal/attachments"
	"gastos/internal/core"
	applog "gastos/internal/log"
)

// ExpenseAPI is the ledger side of the facade.
type ExpenseAPI interface {
	SubmitExpense(ctx context.Context, e core.Expense, uploads []core.Upload) (core.Expense, []core.Attachment, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, f core.ExpenseFilter) ([]core.Expense, error)
	ListExpensesFull(ctx context.Context, f core.ExpenseFilter) ([]core.ExpenseWithAttachments, error)
	ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error)
	DeleteExpense(ctx context.Context, id int64) error
	DownloadLink(ctx context.Context, key string) (attachments.SignedLink, error)
	OpenSignedFile(ctx context.Context, token string) (core.Attachment, io.ReadCloser, error)
	MarkCollected(ctx context.Context, serviceOrderID int64) (core.ServiceOrder, error)
	ServiceOrderSummary(ctx context.Context, serviceOrderID int64) (core.ServiceOrderTotal, error)
}

// submitResponse is returned by POST /api/expenses.
type submitResponse struct {
	ID          int64             `json:"id"`
	Expense     core.Expense      `json:"expense"`
	Attachments []core.Attachment `json:"attachments"`
}

// fullExpense is one row of GET /api/expenses/full.
type fullExpense struct {
	core.Expense
	AttachmentKeys []string          `json:"attachmentKeys"`
	Attachments    []core.Attachment `json:"attachments"`
}

type signedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleSubmitExpense(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	sub, err := ParseExpenseSubmission(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	e, atts, err := s.expenses.SubmitExpense(r.Context(), sub.Expense, sub.Uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Expense accepted",
		applog.FieldExpenseID, e.ID, "attachments", len(atts))

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+strconv.FormatInt(e.ID, 10)).
		Body(submitResponse{ID: e.ID, Expense: e, Attachments: atts}).
		Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	f, err := ParseExpenseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.expenses.ListExpenses(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListExpensesFull(w http.ResponseWriter, r *http.Request) {
	f, err := ParseExpenseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.expenses.ListExpensesFull(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]fullExpense, 0, len(list))
	for _, item := range list {
		keys := make([]string, 0, len(item.Attachments))
		for _, a := range item.Attachments {
			keys = append(keys, a.Key)
		}
		atts := item.Attachments
		if atts == nil {
			atts = []core.Attachment{}
		}
		out = append(out, fullExpense{Expense: item.Expense, AttachmentKeys: keys, Attachments: atts})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.expenses.GetExpense(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	atts, err := s.expenses.ListAttachments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if atts == nil {
		atts = []core.Attachment{}
	}
	writeJSON(w, http.StatusOK, atts)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.expenses.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	link, err := s.expenses.DownloadLink(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}

// handleFile streams the bytes behind a signed link.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	a, rc, err := s.expenses.OpenSignedFile(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.OriginalFilename}))
	if a.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Attachment stream interrupted",
			applog.FieldAttachmentKey, a.Key, "error", err)
	}
}

func (s *Server) handleMarkCollected(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.expenses.MarkCollected(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleServiceOrderSummary(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.expenses.ServiceOrderSummary(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
