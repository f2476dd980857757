package fileio

import (
	"encoding/csv"
	"io"
	"strconv"

	excelize "github.com/xuri/excelize/v2"
)

// ExportRow — одна строка отчёта: материал и одно из его совпадений.
// Материал без совпадений выгружается строкой с пустыми полями позиции.
type ExportRow struct {
	MaterialID   string
	MaterialName string
	Rank         int // 0, если совпадений нет
	ItemID       string
	ItemName     string
	Supplier     string
	Article      string
	Unit         string
	Price        *float64
	Currency     string
	Percentage   float64
	Relevance    *float64
	Note         string
}

var exportHeader = []string{
	"ID материала", "Материал", "Ранг", "ID позиции", "Позиция", "Поставщик",
	"Артикул", "Ед. изм.", "Цена", "Валюта", "Совпадение, %", "Релевантность", "Примечание",
}

func (r ExportRow) cells() []string {
	rank := ""
	if r.Rank > 0 {
		rank = strconv.Itoa(r.Rank)
	}
	pct := ""
	if r.Rank > 0 {
		pct = strconv.FormatFloat(r.Percentage, 'f', 2, 64)
	}
	return []string{
		r.MaterialID, r.MaterialName, rank, r.ItemID, r.ItemName, r.Supplier,
		r.Article, r.Unit, fmtOpt(r.Price, 2), r.Currency, pct, fmtOpt(r.Relevance, 3), r.Note,
	}
}

func fmtOpt(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

// WriteCSV пишет отчёт в UTF-8 с BOM и разделителем ";", чтобы Excel открыл его без мастера импорта.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const exportSheet = "Сопоставление"

// WriteXLSX пишет отчёт одним листом; числа ложатся числами, а не строками.
func WriteXLSX(w io.Writer, rows []ExportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return err
	}

	head := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return err
	}

	for i, r := range rows {
		vals := make([]any, 0, len(exportHeader))
		for _, c := range r.cells() {
			vals = append(vals, c)
		}
		if r.Rank > 0 {
			vals[2] = r.Rank
			vals[10] = r.Percentage
		}
		if r.Price != nil {
			vals[8] = *r.Price
		}
		if r.Relevance != nil {
			vals[11] = *r.Relevance
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, vals); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}
