package handler

import (
	"fmt"
	"strings"

	"material-matcher/internal/fileio"
	"material-matcher/internal/matching/model"
	"material-matcher/internal/utils"
)

// DefaultMaterialMapping — типовые заголовки спецификаций проекта.
func DefaultMaterialMapping() model.Mapping {
	return model.Mapping{
		IDKey:          "ID|Код материала|№ п/п",
		NameKey:        "Наименование|Наименование и техническая характеристика|Материал|Name",
		DescriptionKey: "Описание|Примечание|Description",
		CategoryKey:    "Категория|Группа|Category",
		BrandKey:       "Бренд|Brand",
		TypeMarkKey:    "Тип, марка|Тип марка оборудования",
		CodeKey:        "Код оборудования|Код обор.|Код изделия",
		UnitKey:        "Ед. изм.|Единица измерения|Unit",
		QtyKey:         "Количество|Кол-во|Qty",
		SupplierKey:    "Завод изготовитель|Завод изг.|Производитель|Manufacturer",
		HeaderRow:      1,
	}
}

// DefaultCatalogMapping — типовые заголовки прайс-листов поставщиков.
func DefaultCatalogMapping() model.Mapping {
	return model.Mapping{
		IDKey:          "ID|Код|Код товара",
		NameKey:        "Наименование|Номенклатура|Товар|Name",
		DescriptionKey: "Описание|Description",
		CategoryKey:    "Категория|Группа|Category",
		BrandKey:       "Бренд|Производитель|Brand",
		ArticleKey:     "Артикул|Article|SKU",
		UnitKey:        "Ед. изм.|Единица измерения|Unit",
		PriceKey:       "Цена|Цена с НДС|Price",
		CurrencyKey:    "Валюта|Currency",
		SupplierKey:    "Поставщик|Supplier",
		HeaderRow:      1,
	}
}

// columns — разрешённые заголовки одной таблицы.
type columns struct {
	id, name, desc, category, brand, unit, price, currency string
	supplier, article, code, typeMark, qty                 string
	specs                                                  []string
}

func resolveColumns(headers []string, m model.Mapping) columns {
	c := columns{
		id:       resolveKey(headers, m.IDKey),
		name:     resolveKey(headers, m.NameKey),
		desc:     resolveKey(headers, m.DescriptionKey),
		category: resolveKey(headers, m.CategoryKey),
		brand:    resolveKey(headers, m.BrandKey),
		unit:     resolveKey(headers, m.UnitKey),
		price:    resolveKey(headers, m.PriceKey),
		currency: resolveKey(headers, m.CurrencyKey),
		supplier: resolveKey(headers, m.SupplierKey),
		article:  resolveKey(headers, m.ArticleKey),
		code:     resolveKey(headers, m.CodeKey),
		typeMark: resolveKey(headers, m.TypeMarkKey),
		qty:      resolveKey(headers, m.QtyKey),
	}

	// "*" — все колонки, не занятые под основные поля
	if len(m.SpecKeys) == 1 && m.SpecKeys[0] == "*" {
		used := map[string]struct{}{}
		for _, k := range []string{c.id, c.name, c.desc, c.category, c.brand, c.unit, c.price,
			c.currency, c.supplier, c.article, c.code, c.typeMark, c.qty} {
			if k != "" {
				used[k] = struct{}{}
			}
		}
		for _, h := range headers {
			if _, ok := used[h]; !ok {
				c.specs = append(c.specs, h)
			}
		}
		return c
	}
	for _, want := range m.SpecKeys {
		if k := resolveKey(headers, want); k != "" {
			c.specs = append(c.specs, k)
		}
	}
	return c
}

func specsOf(vals map[string]string, keys []string) map[string]string {
	var out map[string]string
	for _, k := range keys {
		if v := vals[k]; v != "" {
			if out == nil {
				out = make(map[string]string, len(keys))
			}
			out[k] = v
		}
	}
	return out
}

// rowID — значение колонки id, иначе номер строки файла.
func rowID(vals map[string]string, key string, r fileio.Row) string {
	if key != "" {
		if v := strings.TrimSpace(vals[key]); v != "" {
			return v
		}
	}
	return fmt.Sprintf("row-%d", r.Line)
}

// LoadMaterials превращает таблицу в материалы. Строки без наименования
// и повторы шапки пропускаются и попадают в skipped.
func LoadMaterials(t *fileio.Table, m model.Mapping) ([]model.Material, []model.Skip, error) {
	c := resolveColumns(t.Headers, m)
	if c.name == "" {
		return nil, nil, fmt.Errorf("%w: name column %q not found", model.ErrMalformedRecord, m.NameKey)
	}
	out := make([]model.Material, 0, len(t.Rows))
	skipped := []model.Skip{}
	for i, r := range t.Rows {
		v := r.Values
		if looksLikeHeaderRow(v) {
			skipped = append(skipped, model.Skip{Index: i, Reason: fmt.Sprintf("line %d: repeated header", r.Line)})
			continue
		}
		name := v[c.name]
		if name == "" {
			skipped = append(skipped, model.Skip{Index: i, Reason: fmt.Sprintf("line %d: empty name", r.Line)})
			continue
		}
		out = append(out, model.Material{
			ID:            rowID(v, c.id, r),
			Name:          name,
			Description:   v[c.desc],
			Category:      v[c.category],
			Brand:         v[c.brand],
			Specs:         specsOf(v, c.specs),
			TypeMark:      v[c.typeMark],
			EquipmentCode: v[c.code],
			Manufacturer:  v[c.supplier],
			Unit:          v[c.unit],
			Quantity:      utils.ParseOptFloat(v[c.qty]),
		})
	}
	return out, skipped, nil
}

// LoadCatalog — то же для прайс-листа. Валюта берётся из своей колонки,
// иначе из ячейки цены ("1 200 руб.").
func LoadCatalog(t *fileio.Table, m model.Mapping) ([]model.CatalogItem, []model.Skip, error) {
	c := resolveColumns(t.Headers, m)
	if c.name == "" {
		return nil, nil, fmt.Errorf("%w: name column %q not found", model.ErrMalformedRecord, m.NameKey)
	}
	out := make([]model.CatalogItem, 0, len(t.Rows))
	skipped := []model.Skip{}
	seen := make(map[string]struct{}, len(t.Rows))
	for i, r := range t.Rows {
		v := r.Values
		if looksLikeHeaderRow(v) {
			skipped = append(skipped, model.Skip{Index: i, Reason: fmt.Sprintf("line %d: repeated header", r.Line)})
			continue
		}
		name := v[c.name]
		if name == "" {
			skipped = append(skipped, model.Skip{Index: i, Reason: fmt.Sprintf("line %d: empty name", r.Line)})
			continue
		}
		id := rowID(v, c.id, r)
		if _, dup := seen[id]; dup {
			skipped = append(skipped, model.Skip{Index: i, Reason: fmt.Sprintf("line %d: duplicate id %s", r.Line, id)})
			continue
		}
		seen[id] = struct{}{}

		price, cur := utils.ParsePrice(v[c.price])
		if x := strings.TrimSpace(v[c.currency]); x != "" {
			if d := utils.DetectCurrency(x); d != "" {
				cur = d
			} else {
				cur = strings.ToUpper(x)
			}
		}
		out = append(out, model.CatalogItem{
			ID:          id,
			Name:        name,
			Description: v[c.desc],
			Price:       price,
			Currency:    cur,
			Supplier:    v[c.supplier],
			Category:    v[c.category],
			Brand:       v[c.brand],
			Unit:        v[c.unit],
			Article:     v[c.article],
			Specs:       specsOf(v, c.specs),
		})
	}
	return out, skipped, nil
}
