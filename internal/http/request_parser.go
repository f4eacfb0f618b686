// Package http is the JSON and multipart boundary of the service.
//
// This file turns request bodies, query strings and path values into domain
// values. Parsing failures come back as core errors so they map to the same
// status codes as validation failures further in.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gastos/internal/core"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before the rest spills to temp files.
const multipartMemory = 8 << 20

// ParseID reads a positive integer path value.
func ParseID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewFieldError(name, fmt.Errorf("%w: %q is not a valid id", core.ErrNotFound, raw))
	}
	return id, nil
}

// ParseDateRange reads the optional from/to query parameters.
func ParseDateRange(query url.Values) (core.DateRange, error) {
	var r core.DateRange
	for _, p := range []struct {
		name string
		dst  *core.Date
	}{{"from", &r.From}, {"to", &r.To}} {
		v := strings.TrimSpace(query.Get(p.name))
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.DateRange{}, core.NewFieldError(p.name, err)
		}
		*p.dst = d
	}
	if err := r.Validate(); err != nil {
		return core.DateRange{}, err
	}
	return r, nil
}

// ParseExpenseFilter reads serviceOrderId, from and to.
func ParseExpenseFilter(query url.Values) (core.ExpenseFilter, error) {
	var f core.ExpenseFilter
	if v := strings.TrimSpace(query.Get("serviceOrderId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return core.ExpenseFilter{}, core.NewFieldError("serviceOrderId", core.ErrInvalidReference)
		}
		f.ServiceOrderID = id
	}
	r, err := ParseDateRange(query)
	if err != nil {
		return core.ExpenseFilter{}, err
	}
	f.Range = r
	return f, nil
}

// DecodeJSON decodes a JSON body into v, rejecting unknown fields and
// trailing data. Domain errors raised by custom unmarshalers pass through.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeErr(err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", core.ErrInvalidInput)
	}
	return nil
}

func decodeErr(err error) error {
	var tooLarge *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &tooLarge):
		return err
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrInvalidDate):
		return err
	case errors.As(err, &typeErr):
		return core.NewFieldError(typeErr.Field, fmt.Errorf("%w: wrong type", core.ErrInvalidInput))
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: empty body", core.ErrInvalidInput)
	}
	return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
}

// expenseJSON is the JSON form of a submission. Amount fields keep their
// raw text so a bad value is reported against its field name.
type expenseJSON struct {
	ServiceOrderID int64           `json:"serviceOrderId"`
	BankID         int64           `json:"bankId"`
	ProviderID     int64           `json:"providerId"`
	SpentAmount    json.RawMessage `json:"spentAmount"`
	BillAmount     json.RawMessage `json:"billAmount"`
	Date           string          `json:"date"`
}

// ExpenseSubmission is a parsed POST /api/expenses request. Close releases
// any temp files held by a multipart body.
type ExpenseSubmission struct {
	Expense core.Expense
	Uploads []core.Upload

	closers []io.Closer
	form    *multipart.Form
}

func (s *ExpenseSubmission) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	if s.form != nil {
		errs = append(errs, s.form.RemoveAll())
	}
	return errors.Join(errs...)
}

// ParseExpenseSubmission accepts multipart/form-data (fields plus files
// under the category names), a JSON body, or a urlencoded form.
func ParseExpenseSubmission(r *http.Request) (*ExpenseSubmission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return parseMultipartExpense(r)
	case "application/json":
		return parseJSONExpense(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, decodeErr(err)
		}
		e, err := expenseFromForm(r.PostForm)
		if err != nil {
			return nil, err
		}
		return &ExpenseSubmission{Expense: e}, nil
	}
	return nil, fmt.Errorf("%w: unsupported content type %q", core.ErrInvalidInput, mediaType)
}

func parseJSONExpense(r *http.Request) (*ExpenseSubmission, error) {
	var body expenseJSON
	if err := DecodeJSON(r, &body); err != nil {
		return nil, err
	}
	e := core.Expense{
		ServiceOrderID: body.ServiceOrderID,
		BankID:         body.BankID,
		ProviderID:     body.ProviderID,
	}
	var err error
	if e.SpentAmount, err = rawAmount("spentAmount", body.SpentAmount); err != nil {
		return nil, err
	}
	if e.BillAmount, err = rawAmount("billAmount", body.BillAmount); err != nil {
		return nil, err
	}
	if e.Date, err = core.ParseDate(body.Date); err != nil {
		return nil, core.NewFieldError("date", err)
	}
	return &ExpenseSubmission{Expense: e}, nil
}

func rawAmount(field string, raw json.RawMessage) (core.Money, error) {
	if len(raw) == 0 {
		return core.Money{}, core.NewFieldError(field, core.ErrInvalidAmount)
	}
	var m core.Money
	if err := m.UnmarshalJSON(raw); err != nil {
		return core.Money{}, core.NewFieldError(field, core.ErrInvalidAmount)
	}
	return m, nil
}

func parseMultipartExpense(r *http.Request) (*ExpenseSubmission, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, decodeErr(err)
	}
	sub := &ExpenseSubmission{form: r.MultipartForm}

	e, err := expenseFromForm(url.Values(r.MultipartForm.Value))
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.Expense = e

	for field := range r.MultipartForm.File {
		if _, ok := categoryField(field); !ok {
			sub.Close()
			return nil, core.NewFieldError(field, fmt.Errorf("%w: unknown attachment field", core.ErrInvalidInput))
		}
	}
	// Fixed category order keeps attachment order stable across requests.
	for _, cat := range core.Categories() {
		for _, fh := range r.MultipartForm.File[cat.String()] {
			f, err := fh.Open()
			if err != nil {
				sub.Close()
				return nil, fmt.Errorf("%w: open upload %q: %v", core.ErrInvalidInput, fh.Filename, err)
			}
			sub.closers = append(sub.closers, f)
			sub.Uploads = append(sub.Uploads, core.Upload{
				Category:    cat,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Body:        f,
			})
		}
	}
	return sub, nil
}

func categoryField(field string) (core.Category, bool) {
	for _, c := range core.Categories() {
		if c.String() == field {
			return c, true
		}
	}
	return "", false
}

func expenseFromForm(form url.Values) (core.Expense, error) {
	var e core.Expense
	ids := []struct {
		name string
		dst  *int64
	}{
		{"serviceOrderId", &e.ServiceOrderID},
		{"bankId", &e.BankID},
		{"providerId", &e.ProviderID},
	}
	for _, f := range ids {
		v := sanitizeInput(form.Get(f.name))
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return core.Expense{}, core.NewFieldError(f.name, core.ErrInvalidReference)
		}
		*f.dst = id
	}

	var err error
	if e.SpentAmount, err = core.ParseAmount(form.Get("spentAmount")); err != nil {
		return core.Expense{}, core.NewFieldError("spentAmount", err)
	}
	if e.BillAmount, err = core.ParseAmount(form.Get("billAmount")); err != nil {
		return core.Expense{}, core.NewFieldError("billAmount", err)
	}
	if e.Date, err = core.ParseDate(form.Get("date")); err != nil {
		return core.Expense{}, core.NewFieldError("date", err)
	}
	return e, nil
}

// sanitizeInput trims whitespace and strips control characters other than
// tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
