package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LuisMada/SentiScan/internal/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheet writes to a tab of a Google spreadsheet
type GoogleSheet struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewGoogleSheet authenticates with a service account key file
func NewGoogleSheet(ctx context.Context, spreadsheetID, credentialsFile string, opts ...option.ClientOption) (*GoogleSheet, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: publish.spreadsheet_id is required", model.ErrConfig)
	}
	if credentialsFile != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}, opts...)
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &GoogleSheet{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// Replace clears the tab and writes rows from A1 as raw text
func (g *GoogleSheet) Replace(ctx context.Context, tab string, rows [][]string) error {
	rng := quoteTab(tab)

	_, err := g.srv.Spreadsheets.Values.
		Clear(g.spreadsheetID, rng, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", tab, sheetsError(err))
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, c := range row {
			cells[j] = c
		}
		values[i] = cells
	}

	_, err = g.srv.Spreadsheets.Values.
		Update(g.spreadsheetID, rng+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", tab, sheetsError(err))
	}
	return nil
}

// quoteTab wraps a tab name for A1 notation; embedded quotes are doubled
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// sheetsError maps API errors onto HTTPStatusError so the executor can tell
// rate limits and server errors from permanent failures
func sheetsError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &model.HTTPStatusError{Service: "sheets", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return err
}
