package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// Workbook writes tabs of a local .xlsx file. The file is created on first
// use; other tabs in an existing workbook are preserved.
type Workbook struct {
	path string
}

// NewWorkbook returns a sheet backed by the workbook at path
func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

// Replace clears the tab (creating it if needed) and writes rows from A1
func (w *Workbook) Replace(ctx context.Context, tab string, rows [][]string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, created, err := w.open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()

	if err := prepareTab(f, tab, created); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(tab, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create workbook folder: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (w *Workbook) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	return nil, false, fmt.Errorf("open workbook: %w", err)
}

// prepareTab leaves tab present and empty
func prepareTab(f *excelize.File, tab string, created bool) error {
	if created {
		// a new workbook starts with one default tab; take it over
		first := f.GetSheetName(0)
		if first != tab {
			if err := f.SetSheetName(first, tab); err != nil {
				return fmt.Errorf("rename default tab: %w", err)
			}
		}
		return nil
	}

	idx, err := f.GetSheetIndex(tab)
	if err != nil {
		return fmt.Errorf("look up tab %s: %w", tab, err)
	}
	if idx < 0 {
		if _, err := f.NewSheet(tab); err != nil {
			return fmt.Errorf("create tab %s: %w", tab, err)
		}
		return nil
	}

	existing, err := f.GetRows(tab)
	if err != nil {
		return fmt.Errorf("read tab %s: %w", tab, err)
	}
	for r := len(existing); r >= 1; r-- {
		if err := f.RemoveRow(tab, r); err != nil {
			return fmt.Errorf("clear tab %s: %w", tab, err)
		}
	}
	return nil
}
