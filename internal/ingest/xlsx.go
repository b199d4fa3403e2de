package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readXLSX reads a single sheet from an XLSX workbook, returning the header
// row and data rows. Prior manual datasets typically arrive as spreadsheets.
func readXLSX(path, sheetName string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, nil, eris.Errorf("ingest: sheet %q not found in %s", sheetName, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, nil, eris.Errorf("ingest: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	var header []string
	var rows [][]string
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}

	return header, rows, nil
}
