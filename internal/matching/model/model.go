package model

import "time"

// Material — запись внутреннего справочника материалов.
type Material struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`

	// в скоринге не участвуют, но идут в запрос к поиску и в выгрузку
	TypeMark      string   `json:"typeMark,omitempty"`      // тип, марка
	EquipmentCode string   `json:"equipmentCode,omitempty"` // код оборудования
	Manufacturer  string   `json:"manufacturer,omitempty"`  // завод-изготовитель
	Unit          string   `json:"unit,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
}

// CatalogItem — строка прайс-листа поставщика.
type CatalogItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Price       *float64          `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Supplier    string            `json:"supplier,omitempty"`
	Category    string            `json:"category,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Article     string            `json:"article,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
}

// Candidate — элемент шорт-листа от внешнего поиска.
// Relevance == nil, если поиск не отдаёт свою оценку.
type Candidate struct {
	Item      CatalogItem
	Relevance *float64
}

type FieldScore struct {
	Field  Field   `json:"field"`
	Score  float64 `json:"score"`  // 0..1
	Weight float64 `json:"weight"` // нормированный вес
}

type MatchResult struct {
	MaterialID string       `json:"materialId"`
	ItemID     string       `json:"itemId"`
	Percentage float64      `json:"percentage"` // 0..100
	Fields     []FieldScore `json:"fields"`
	Relevance  *float64     `json:"relevance,omitempty"`
	Item       *CatalogItem `json:"item,omitempty"`
}

// MaterialMatches — ранжированный список совпадений одного материала.
type MaterialMatches struct {
	MaterialID string        `json:"materialId"`
	Matches    []MatchResult `json:"matches"`
	Failed     bool          `json:"failed,omitempty"` // подробности в BatchResult.Failures
}

type BatchStats struct {
	Materials   int           `json:"materials"`
	PairsScored int64         `json:"pairsScored"`
	CacheHits   int64         `json:"cacheHits"`
	CacheMisses int64         `json:"cacheMisses"`
	Elapsed     time.Duration `json:"elapsed"`

	// сводка по совпадениям; проценты схожести 0, если совпадений нет
	WithMatches    int     `json:"materialsWithMatches"`
	WithoutMatches int     `json:"materialsWithoutMatches"`
	MatchRate      float64 `json:"matchRate"` // % материалов хотя бы с одним совпадением
	TotalMatches   int     `json:"totalMatches"`
	AvgMatches     float64 `json:"averageMatchesPerMaterial"`
	AvgSimilarity  float64 `json:"averageSimilarity"`
	MinSimilarity  float64 `json:"minSimilarity"`
	MaxSimilarity  float64 `json:"maxSimilarity"`
}

// Summarize заполняет сводку по совпадениям. Материалы со сбоем
// считаются материалами без совпадений.
func (s *BatchStats) Summarize(results []MaterialMatches) {
	s.Materials = len(results)
	s.WithMatches, s.WithoutMatches, s.TotalMatches = 0, 0, 0
	s.MatchRate, s.AvgMatches = 0, 0
	s.AvgSimilarity, s.MinSimilarity, s.MaxSimilarity = 0, 0, 0

	sum := 0.0
	for _, mm := range results {
		if len(mm.Matches) == 0 {
			s.WithoutMatches++
			continue
		}
		s.WithMatches++
		for _, m := range mm.Matches {
			if s.TotalMatches == 0 || m.Percentage < s.MinSimilarity {
				s.MinSimilarity = m.Percentage
			}
			if s.TotalMatches == 0 || m.Percentage > s.MaxSimilarity {
				s.MaxSimilarity = m.Percentage
			}
			sum += m.Percentage
			s.TotalMatches++
		}
	}
	if s.Materials > 0 {
		s.MatchRate = float64(s.WithMatches) / float64(s.Materials) * 100
		s.AvgMatches = float64(s.TotalMatches) / float64(s.Materials)
	}
	if s.TotalMatches > 0 {
		s.AvgSimilarity = sum / float64(s.TotalMatches)
	}
}

// HitRate в процентах, 0 если обращений к кэшу не было.
func (s BatchStats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

type BatchResult struct {
	State    BatchState        `json:"state"`
	Partial  bool              `json:"partial"`
	Results  []MaterialMatches `json:"results"`
	Failures []Failure         `json:"failures"`
	Skipped  []Skip            `json:"skipped"`
	Stats    BatchStats        `json:"stats"`
}

// Progress — снимок хода пакетной обработки, безопасен для чтения из другой горутины.
type Progress struct {
	State     BatchState `json:"state"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
}

// Mapping — какие колонки таблицы чем являются.
// Значения поддерживают альтернативы через "|".
type Mapping struct {
	IDKey          string
	NameKey        string
	DescriptionKey string
	CategoryKey    string
	BrandKey       string
	UnitKey        string
	PriceKey       string
	CurrencyKey    string
	SupplierKey    string
	ArticleKey     string
	CodeKey        string
	TypeMarkKey    string
	QtyKey         string
	SpecKeys       []string // колонки, которые уходят в карту характеристик
	HeaderRow      int      // строка заголовков (1-based)
}
