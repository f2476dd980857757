package fileio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var ErrUnsupported = errors.New("unsupported file format")

// Row — строка данных; Line — номер строки в исходном файле (1-based),
// из него строятся идентификаторы записей без своего id.
type Row struct {
	Line   int
	Values map[string]string
}

type Table struct {
	Headers []string
	Rows    []Row
}

// ReadTable выбирает парсер по расширению. headerRow — номер строки заголовков (1-based).
func ReadTable(r io.Reader, filename string, headerRow int) (*Table, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx":
		rows, err = readXLSX(r)
	case ".xls":
		rows, err = readXLS(r)
	case ".csv", ".txt":
		rows, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	h := pickHeader(rows, headerRow)
	return &Table{Headers: h, Rows: rowsToTable(rows, h, headerRow)}, nil
}

// pickHeader — берёт строку заголовков и подставляет Column N для пустых.
// Повторяющиеся заголовки получают суффикс " (2)", " (3)"...
func pickHeader(rows [][]string, headerRow int) []string {
	idx := headerRow - 1
	if idx >= len(rows) {
		idx = 0
	}
	h := rows[idx]
	out := make([]string, len(h))
	seen := make(map[string]int, len(h))
	for i, v := range h {
		v = cleanCell(v)
		if v == "" {
			v = fmt.Sprintf("Column %d", i+1)
		}
		if n := seen[v]; n > 0 {
			seen[v] = n + 1
			v = fmt.Sprintf("%s (%d)", v, n+1)
		} else {
			seen[v] = 1
		}
		out[i] = v
	}
	return out
}

// rowsToTable пропускает полностью пустые строки.
func rowsToTable(rows [][]string, headers []string, headerRow int) []Row {
	var out []Row
	for r := headerRow; r < len(rows); r++ {
		rec := rows[r]
		m := make(map[string]string, len(headers))
		empty := true
		for c, h := range headers {
			var v string
			if c < len(rec) {
				v = cleanCell(rec[c])
			}
			if v != "" {
				empty = false
			}
			m[h] = v
		}
		if !empty {
			out = append(out, Row{Line: r + 1, Values: m})
		}
	}
	return out
}

var cellReplacer = strings.NewReplacer(
	"\u00A0", " ", "\u202F", " ",
	"\r\n", " ", "\n", " ", "\r", " ",
)

// cleanCell — неразрывные пробелы и переносы внутри ячейки в пробел, обрезка краёв.
func cleanCell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}
