// Package google exports ledger entries to a Google Sheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"gastos/internal/sheets"
)

type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ sheets.ExpenseExporter = (*Exporter)(nil)

// NewExporter authenticates with a service account, taken from inline JSON,
// a file, or GOOGLE_APPLICATION_CREDENTIALS in that order.
func NewExporter(ctx context.Context, opts Options) (*Exporter, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if opts.SheetName == "" {
		opts.SheetName = "Gastos"
	}
	creds, err := loadCredentials(opts)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets exporter ready",
		"spreadsheet_id", opts.SpreadsheetID,
		"sheet", opts.SheetName)
	return &Exporter{svc: svc, spreadsheetID: opts.SpreadsheetID, sheetName: opts.SheetName}, nil
}

func loadCredentials(opts Options) ([]byte, error) {
	if j := strings.TrimSpace(opts.CredentialsJSON); j != "" {
		return []byte(j), nil
	}
	file := strings.TrimSpace(opts.CredentialsFile)
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if file == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// idColumn reads column A, which holds expense ids.
func (e *Exporter) idColumn(ctx context.Context) ([][]interface{}, error) {
	resp, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, e.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read ids from %s: %w", e.sheetName, err)
	}
	return resp.Values, nil
}

// AppendExpense writes row unless the sheet already has a row for the
// same expense id.
func (e *Exporter) AppendExpense(ctx context.Context, row sheets.ExpenseRow) (string, error) {
	col, err := e.idColumn(ctx)
	if err != nil {
		return "", err
	}
	if n := findRow(col, row.ExpenseID); n > 0 {
		return rowRef(e.sheetName, n), nil
	}

	values := [][]interface{}{row.Values()}
	next := len(col) + 1
	if len(col) == 0 {
		values = [][]interface{}{sheets.Header, row.Values()}
		next = 2
	}
	_, err = e.svc.Spreadsheets.Values.Append(e.spreadsheetID, e.sheetName+"!A:H", &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", e.sheetName, err)
	}
	return rowRef(e.sheetName, next), nil
}

// RemoveExpense deletes the row for expenseID; a missing row is not an error.
func (e *Exporter) RemoveExpense(ctx context.Context, expenseID int64) error {
	col, err := e.idColumn(ctx)
	if err != nil {
		return err
	}
	n := findRow(col, expenseID)
	if n == 0 {
		return nil
	}
	sheetID, err := e.sheetID(ctx)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(n - 1),
					EndIndex:   int64(n),
				},
			},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d from %s: %w", n, e.sheetName, err)
	}
	return nil
}

func (e *Exporter) sheetID(ctx context.Context) (int64, error) {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == e.sheetName {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", e.sheetName)
}

// findRow returns the 1-based row whose first cell is expenseID, or 0.
func findRow(col [][]interface{}, expenseID int64) int {
	want := strconv.FormatInt(expenseID, 10)
	for i, r := range col {
		if len(r) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(r[0])) == want {
			return i + 1
		}
	}
	return 0
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:H%d", sheet, row, row)
}
