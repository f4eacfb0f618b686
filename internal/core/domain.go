package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Attachment categories. The category is chosen by the uploader, never
// inferred from the file name.
const (
	CategoryInvoice          Category = "invoice"
	CategoryPaymentProof     Category = "paymentProof"
	CategoryPurchaseEvidence Category = "purchaseEvidence"
)

type (
	Category string

	// Date is a calendar day. Time-of-day is always midnight UTC.
	Date struct {
		time.Time
	}

	// DateRange is an inclusive [From, To] window. A zero bound is open.
	DateRange struct {
		From Date `json:"from"`
		To   Date `json:"to"`
	}

	Bank struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		AccountNumber string `json:"accountNumber"`
	}

	Provider struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	// ServiceOrder ("OdeS") is a unit of work with a billable ceiling.
	// Collected is derived from the ledger and never stored.
	ServiceOrder struct {
		ID             int64  `json:"id"`
		Number         string `json:"number"`
		BillableAmount Money  `json:"billableAmount"`
		Collected      bool   `json:"collected"`
	}

	Expense struct {
		ID             int64     `json:"id"`
		ServiceOrderID int64     `json:"serviceOrderId"`
		BankID         int64     `json:"bankId"`
		ProviderID     int64     `json:"providerId"`
		SpentAmount    Money     `json:"spentAmount"`
		BillAmount     Money     `json:"billAmount"`
		Date           Date      `json:"date"`
		CreatedAt      time.Time `json:"createdAt"`
	}

	Attachment struct {
		Key              string   `json:"key"`
		ExpenseID        int64    `json:"expenseId"`
		OriginalFilename string   `json:"originalFilename"`
		Category         Category `json:"category"`
		ContentType      string   `json:"contentType,omitempty"`
		SizeBytes        int64    `json:"sizeBytes"`
	}

	// ExpenseWithAttachments is one row of the full expense listing.
	ExpenseWithAttachments struct {
		Expense     Expense      `json:"expense"`
		Attachments []Attachment `json:"attachments"`
	}

	// Upload is a file submitted together with an expense.
	Upload struct {
		Category    Category
		Filename    string
		ContentType string
		Body        io.Reader
	}

	// ExpenseFilter restricts a ledger listing. Zero values match everything.
	ExpenseFilter struct {
		ServiceOrderID int64
		Range          DateRange
	}
)

// Categories returns every known attachment category in display order.
func Categories() []Category {
	return []Category{CategoryInvoice, CategoryPaymentProof, CategoryPurchaseEvidence}
}

func (c Category) Validate() error {
	switch c {
	case CategoryInvoice, CategoryPaymentProof, CategoryPurchaseEvidence:
		return nil
	}
	return NewFieldError("category", ErrInvalidInput)
}

func (c Category) String() string {
	return string(c)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. Values like 2025-02-30 are rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String returns the YYYY-MM-DD form, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		if string(b) == "null" {
			*d = Date{}
			return nil
		}
		return ErrInvalidDate
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From.Time) {
		return NewFieldError("to", ErrInvalidDate)
	}
	return nil
}

// Contains reports whether d falls inside the inclusive window.
func (r DateRange) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From.Time) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To.Time) {
		return false
	}
	return true
}

func (b Bank) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return NewFieldError("name", ErrInvalidInput)
	}
	if len(b.Name) > 120 {
		return NewFieldError("name", fmt.Errorf("%w: too long (max 120 characters)", ErrInvalidInput))
	}
	if len(b.AccountNumber) > 64 {
		return NewFieldError("accountNumber", fmt.Errorf("%w: too long (max 64 characters)", ErrInvalidInput))
	}
	return nil
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewFieldError("name", ErrInvalidInput)
	}
	if len(p.Name) > 120 {
		return NewFieldError("name", fmt.Errorf("%w: too long (max 120 characters)", ErrInvalidInput))
	}
	return nil
}

func (o ServiceOrder) Validate() error {
	if strings.TrimSpace(o.Number) == "" {
		return NewFieldError("number", ErrInvalidInput)
	}
	if len(o.Number) > 64 {
		return NewFieldError("number", fmt.Errorf("%w: too long (max 64 characters)", ErrInvalidInput))
	}
	if err := o.BillableAmount.Validate(); err != nil {
		return NewFieldError("billableAmount", err)
	}
	return nil
}

// Validate checks the expense fields that can be verified without storage.
// Reference existence is checked by the ledger at write time.
func (e Expense) Validate() error {
	if e.ServiceOrderID <= 0 {
		return NewFieldError("serviceOrderId", ErrInvalidReference)
	}
	if e.BankID <= 0 {
		return NewFieldError("bankId", ErrInvalidReference)
	}
	if e.ProviderID <= 0 {
		return NewFieldError("providerId", ErrInvalidReference)
	}
	if err := e.SpentAmount.Validate(); err != nil {
		return NewFieldError("spentAmount", err)
	}
	if err := e.BillAmount.Validate(); err != nil {
		return NewFieldError("billAmount", err)
	}
	if err := e.Date.Validate(); err != nil {
		return NewFieldError("date", err)
	}
	return nil
}

func (u Upload) Validate() error {
	if err := u.Category.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(u.Filename) == "" {
		return NewFieldError(u.Category.String(), ErrInvalidInput)
	}
	if u.Body == nil {
		return NewFieldError(u.Category.String(), ErrInvalidInput)
	}
	return nil
}
