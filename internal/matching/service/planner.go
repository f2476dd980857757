package service

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"material-matcher/internal/matching/model"
)

// Planner оценивает шорт-лист одного материала, фильтрует по порогу и ранжирует.
type Planner struct {
	scorer      *Scorer
	parallelism int
}

func NewPlanner(s *Scorer, parallelism int) *Planner {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Planner{scorer: s, parallelism: parallelism}
}

type planStats struct {
	scored int
	hits   int
}

// Plan возвращает кандидатов с процентом >= threshold, лучшие первыми,
// не больше topN (topN <= 0: все). Пустой результат — не ошибка.
// Ошибка возможна только при сбое сравнения (model.ErrComparator).
func (p *Planner) Plan(m model.Material, candidates []model.Candidate, threshold float64, topN int) ([]model.MatchResult, error) {
	res, _, err := p.plan(m, candidates, threshold, topN)
	return res, err
}

func (p *Planner) plan(m model.Material, candidates []model.Candidate, threshold float64, topN int) ([]model.MatchResult, planStats, error) {
	candidates = dedupCandidates(candidates)
	var st planStats
	if len(candidates) == 0 {
		return []model.MatchResult{}, st, nil
	}

	mr := MaterialRecord(m)
	scored := make([]model.MatchResult, len(candidates))
	hits := make([]bool, len(candidates))

	// слоты по индексу кандидата, порядок не зависит от планировщика
	scoreOne := func(i int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: item %s: %v", model.ErrComparator, candidates[i].Item.ID, r)
			}
		}()
		c := candidates[i]
		res, hit := p.scorer.score(mr, ItemRecord(c.Item))
		res.MaterialID = m.ID
		res.ItemID = c.Item.ID
		res.Relevance = c.Relevance
		item := c.Item
		res.Item = &item
		scored[i], hits[i] = res, hit
		return nil
	}

	if p.parallelism == 1 || len(candidates) == 1 {
		for i := range candidates {
			if err := scoreOne(i); err != nil {
				return nil, st, err
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.parallelism)
		for i := range candidates {
			g.Go(func() error { return scoreOne(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, st, err
		}
	}

	st.scored = len(candidates)
	out := make([]model.MatchResult, 0, len(scored))
	for i, r := range scored {
		if hits[i] {
			st.hits++
		}
		if r.Percentage < threshold {
			continue
		}
		out = append(out, r)
	}
	Rank(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, st, nil
}

// Rank: процент по убыванию, затем релевантность поиска по убыванию
// (без оценки — после любых оценённых), затем id позиции по возрастанию.
func Rank(rs []model.MatchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Percentage != b.Percentage {
			return a.Percentage > b.Percentage
		}
		switch {
		case a.Relevance != nil && b.Relevance != nil:
			if *a.Relevance != *b.Relevance {
				return *a.Relevance > *b.Relevance
			}
		case a.Relevance != nil:
			return true
		case b.Relevance != nil:
			return false
		}
		return a.ItemID < b.ItemID
	})
}

// dedupCandidates: повтор id в шорт-листе — берём первое вхождение.
func dedupCandidates(cs []model.Candidate) []model.Candidate {
	seen := make(map[string]struct{}, len(cs))
	out := cs[:0:0]
	for _, c := range cs {
		if _, ok := seen[c.Item.ID]; ok {
			continue
		}
		seen[c.Item.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
