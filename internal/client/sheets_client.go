package client

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/pipeline"
)

// SheetsClient is the row-store collaborator backed by a Google Sheet with a
// header row. The sheet must contain at least "status" and "id" columns; all
// other columns are passed through as free-form work item fields.
type SheetsClient struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsClient creates a Sheets client authenticated with a service
// account. When the service account is not configured the client is still
// returned; its operations fail with a configuration error. Extra options
// are intended for tests (endpoint override, no auth).
func NewSheetsClient(ctx context.Context, cfg *config.SheetsConfig, opts ...option.ClientOption) (*SheetsClient, error) {
	c := &SheetsClient{
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
	}

	if len(opts) == 0 {
		if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
			return c, nil
		}
		jwtCfg := &jwt.Config{
			Email:      cfg.ClientEmail,
			PrivateKey: []byte(cfg.PrivateKey),
			Scopes:     []string{sheets.SpreadsheetsScope},
			TokenURL:   google.JWTTokenURL,
		}
		opts = []option.ClientOption{option.WithTokenSource(jwtCfg.TokenSource(ctx))}
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	c.svc = svc
	return c, nil
}

// NextByStatus returns the first data row whose status column equals status.
func (c *SheetsClient) NextByStatus(ctx context.Context, status string) (*model.WorkItem, error) {
	header, rows, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}

	statusIdx := indexOf(header, "status")
	if statusIdx == -1 {
		return nil, errors.New(`no "status" column in sheet`)
	}

	for _, row := range rows {
		if cellString(row, statusIdx) != status {
			continue
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = cellString(row, i)
		}
		return &model.WorkItem{ID: fields["id"], Fields: fields}, nil
	}

	return nil, fmt.Errorf("no row with status %q", status)
}

// UpdateByID rewrites only the given fields of the row whose id column equals
// id, leaving every other cell untouched. Last write wins; no concurrency
// check is made against external edits.
func (c *SheetsClient) UpdateByID(ctx context.Context, id string, fields map[string]string) error {
	if id == "" {
		return errors.New(`updateRowById: missing "id"`)
	}

	header, rows, err := c.readAll(ctx)
	if err != nil {
		return err
	}

	idIdx := indexOf(header, "id")
	if idIdx == -1 {
		return errors.New(`no "id" column in sheet`)
	}

	target := -1
	for i, row := range rows {
		if cellString(row, idIdx) == id {
			target = i
			break
		}
	}
	if target == -1 {
		return fmt.Errorf("no row with id=%s", id)
	}

	// Sheet row numbers are 1-based and include the header row.
	sheetRowNumber := target + 2

	newRow := make([]interface{}, len(header))
	for i := range header {
		newRow[i] = cellString(rows[target], i)
	}
	for key, value := range fields {
		if idx := indexOf(header, key); idx != -1 {
			newRow[idx] = value
		}
	}

	rng := fmt.Sprintf("%s!A%d:Z%d", c.sheetName, sheetRowNumber, sheetRowNumber)
	_, err = c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, rng, &sheets.ValueRange{Values: [][]interface{}{newRow}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update row id=%s: %w", id, err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SheetsClient) IsConfigured() bool {
	return c.svc != nil && c.spreadsheetID != "" && c.sheetName != ""
}

// readAll fetches the A:Z range and splits it into header and data rows.
func (c *SheetsClient) readAll(ctx context.Context) ([]string, [][]interface{}, error) {
	if !c.IsConfigured() {
		return nil, nil, pipeline.WrapKind(pipeline.KindConfiguration,
			errors.New("GOOGLE_SHEETS_SPREADSHEET_ID or GOOGLE_SHEETS_SHEET_NAME is not set"))
	}

	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, c.sheetName+"!A:Z").
		Context(ctx).
		Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	if len(resp.Values) < 2 {
		return nil, nil, errors.New("sheet has no data rows (or missing header)")
	}

	header := make([]string, len(resp.Values[0]))
	for i := range resp.Values[0] {
		header[i] = cellString(resp.Values[0], i)
	}
	return header, resp.Values[1:], nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cellString(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return fmt.Sprint(row[idx])
}
