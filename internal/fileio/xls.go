package fileio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	xls "github.com/extrame/xls"
)

// Кодировки, в которых пробуем открыть .xls: выгрузки 1С обычно cp1251.
var xlsCharsets = []string{"windows-1251", "utf-8", "koi8-r"}

// Предел ширины листа: дальше колонки не просматриваются.
const xlsMaxCols = 512

// grid — лист как прямоугольник ячеек; пустая или отсутствующая ячейка даёт "".
type grid interface {
	lastRow() int
	cell(row, col int) string
}

type xlsSheet struct{ ws *xls.WorkSheet }

func (s xlsSheet) lastRow() int { return int(s.ws.MaxRow) }

func (s xlsSheet) cell(row, col int) string {
	r := s.ws.Row(row)
	if r == nil {
		return ""
	}
	return r.Col(col)
}

func readXLS(r io.Reader) ([][]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	wb, err := openXLS(b)
	if err != nil {
		return nil, err
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return nil, nil
	}
	return gridRows(xlsSheet{ws}), nil
}

func openXLS(b []byte) (*xls.WorkBook, error) {
	var errs []error
	for _, cs := range xlsCharsets {
		wb, err := xls.OpenReader(bytes.NewReader(b), cs)
		if err == nil && wb != nil {
			return wb, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cs, err))
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("xls: workbook is empty")
	}
	return nil, fmt.Errorf("xls: %w", errors.Join(errs...))
}

// gridRows выгружает лист построчно. Row.LastCol у .xls врёт на объединённых
// ячейках, поэтому ширина считается по самой правой непустой ячейке листа.
// Пустые строки внутри листа сохраняются, иначе съедут номера строк Row.Line;
// хвост из пустых строк отбрасывается.
func gridRows(g grid) [][]string {
	last := g.lastRow()
	width, height := 0, 0
	for i := 0; i <= last; i++ {
		for j := xlsMaxCols - 1; j >= width; j-- {
			if cleanCell(g.cell(i, j)) != "" {
				width = j + 1
				break
			}
		}
		for j := 0; j < width; j++ {
			if cleanCell(g.cell(i, j)) != "" {
				height = i + 1
				break
			}
		}
	}

	rows := make([][]string, height)
	for i := range rows {
		cols := make([]string, width)
		for j := range cols {
			cols[j] = cleanCell(g.cell(i, j))
		}
		rows[i] = cols
	}
	return rows
}
