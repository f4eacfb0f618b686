package http

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"gastos/internal/core"
)

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		wantFrom  string
		wantTo    string
		wantErr   error
		wantField string
	}{
		{name: "empty is unbounded", query: url.Values{}},
		{name: "both bounds", query: url.Values{"from": {"2025-01-01"}, "to": {"2025-01-31"}}, wantFrom: "2025-01-01", wantTo: "2025-01-31"},
		{name: "same day", query: url.Values{"from": {"2025-01-10"}, "to": {"2025-01-10"}}, wantFrom: "2025-01-10", wantTo: "2025-01-10"},
		{name: "bad from", query: url.Values{"from": {"01/02/2025"}}, wantErr: core.ErrInvalidDate, wantField: "from"},
		{name: "impossible day", query: url.Values{"to": {"2025-02-30"}}, wantErr: core.ErrInvalidDate, wantField: "to"},
		{name: "inverted", query: url.Values{"from": {"2025-02-01"}, "to": {"2025-01-01"}}, wantErr: core.ErrInvalidDate, wantField: "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseDateRange(tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || core.FieldOf(err) != tt.wantField {
					t.Fatalf("err = %v (field %q), want %v on %q", err, core.FieldOf(err), tt.wantErr, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.From.String() != tt.wantFrom || r.To.String() != tt.wantTo {
				t.Errorf("range = %s..%s, want %s..%s", r.From, r.To, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestParseExpenseFilter(t *testing.T) {
	f, err := ParseExpenseFilter(url.Values{"serviceOrderId": {"7"}, "from": {"2025-03-01"}})
	if err != nil {
		t.Fatalf("ParseExpenseFilter: %v", err)
	}
	if f.ServiceOrderID != 7 || f.Range.From.String() != "2025-03-01" || !f.Range.To.IsZero() {
		t.Errorf("filter = %+v", f)
	}

	_, err = ParseExpenseFilter(url.Values{"serviceOrderId": {"abc"}})
	if !errors.Is(err, core.ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}

func TestParseJSONExpense(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   error
		wantField string
	}{
		{name: "numbers", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":400,"billAmount":1000,"date":"2025-01-10"}`},
		{name: "strings", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":"400.00","billAmount":"1000","date":"2025-01-10"}`},
		{name: "negative bill", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":"1","billAmount":"-5","date":"2025-01-10"}`, wantErr: core.ErrInvalidAmount, wantField: "billAmount"},
		{name: "text spent", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":"abc","billAmount":"1","date":"2025-01-10"}`, wantErr: core.ErrInvalidAmount, wantField: "spentAmount"},
		{name: "grouped thousands", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":"1","billAmount":"1,000","date":"2025-01-10"}`, wantErr: core.ErrInvalidAmount, wantField: "billAmount"},
		{name: "sub-cent spent", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":12.345,"billAmount":"1","date":"2025-01-10"}`, wantErr: core.ErrInvalidAmount, wantField: "spentAmount"},
		{name: "missing amount", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"billAmount":"1","date":"2025-01-10"}`, wantErr: core.ErrInvalidAmount, wantField: "spentAmount"},
		{name: "bad date", body: `{"serviceOrderId":1,"bankId":2,"providerId":3,"spentAmount":1,"billAmount":1,"date":"yesterday"}`, wantErr: core.ErrInvalidDate, wantField: "date"},
		{name: "unknown field", body: `{"serviceOrderId":1,"color":"red"}`, wantErr: core.ErrInvalidInput},
		{name: "empty", body: ``, wantErr: core.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			sub, err := ParseExpenseSubmission(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if tt.wantField != "" && core.FieldOf(err) != tt.wantField {
					t.Errorf("field = %q, want %q", core.FieldOf(err), tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			e := sub.Expense
			if e.SpentAmount.Cents != 40000 || e.BillAmount.Cents != 100000 || e.Date.String() != "2025-01-10" {
				t.Errorf("expense = %+v", e)
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, "content of "+name)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		"serviceOrderId": "1", "bankId": "2", "providerId": "3",
		"spentAmount": "400", "billAmount": "1000,00", "date": "2025-01-10",
	}
}

func TestParseMultipartExpense(t *testing.T) {
	body, ct := multipartBody(t, validFields(), map[string]string{
		"purchaseEvidence": "photo.jpg",
		"invoice":          "factura.pdf",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/expenses", body)
	req.Header.Set("Content-Type", ct)

	sub, err := ParseExpenseSubmission(req)
	if err != nil {
		t.Fatalf("ParseExpenseSubmission: %v", err)
	}
	defer sub.Close()

	if sub.Expense.BillAmount.Cents != 100000 {
		t.Errorf("bill = %d", sub.Expense.BillAmount.Cents)
	}
	if len(sub.Uploads) != 2 {
		t.Fatalf("uploads = %d, want 2", len(sub.Uploads))
	}
	if sub.Uploads[0].Category != core.CategoryInvoice || sub.Uploads[1].Category != core.CategoryPurchaseEvidence {
		t.Errorf("uploads not in category order: %s, %s", sub.Uploads[0].Category, sub.Uploads[1].Category)
	}
	data, _ := io.ReadAll(sub.Uploads[0].Body)
	if string(data) != "content of factura.pdf" {
		t.Errorf("invoice body = %q", data)
	}
}

func TestParseMultipartExpenseRejects(t *testing.T) {
	bad := validFields()
	bad["spentAmount"] = "-3"
	tests := []struct {
		name    string
		fields  map[string]string
		files   map[string]string
		wantErr error
		field   string
	}{
		{"negative amount", bad, nil, core.ErrInvalidAmount, "spentAmount"},
		{"unknown file field", validFields(), map[string]string{"receipt": "r.pdf"}, core.ErrInvalidInput, "receipt"},
		{"missing bank", map[string]string{"serviceOrderId": "1", "providerId": "3", "spentAmount": "1", "billAmount": "1", "date": "2025-01-01"}, nil, core.ErrInvalidReference, "bankId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.files)
			req := httptest.NewRequest(http.MethodPost, "/api/expenses", body)
			req.Header.Set("Content-Type", ct)
			_, err := ParseExpenseSubmission(req)
			if !errors.Is(err, tt.wantErr) || core.FieldOf(err) != tt.field {
				t.Errorf("err = %v (field %q), want %v on %q", err, core.FieldOf(err), tt.wantErr, tt.field)
			}
		})
	}
}

func TestParseExpenseSubmissionContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	if _, err := ParseExpenseSubmission(req); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  12 ", "12"},
		{"a\x00b\x07c", "abc"},
		{"tab\tok", "tab\tok"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
