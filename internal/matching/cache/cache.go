// Package cache хранит уже посчитанные оценки пар записей.
//
// Ключ — пара отпечатков содержимого, поэтому повторный запуск по тем же
// данным (или по данным, где поменялась часть строк) не пересчитывает
// неизменившиеся пары. Вытеснение LRU по ёмкости, TTL проверяется лениво
// при чтении, фоновой чистки нет.
package cache

import (
	"slices"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"material-matcher/internal/matching/model"
)

// Entry — закэшированная разбивка и итоговый процент.
type Entry struct {
	Fields     []model.FieldScore
	Percentage float64
	StoredAt   time.Time
}

type Config struct {
	Capacity int
	TTL      time.Duration // 0: без срока
}

type Stats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// ScoreCache потокобезопасен. Гонка "промах → два одинаковых расчёта → два Put"
// допустима: расчёт детерминирован, побеждает последний.
type ScoreCache struct {
	lru *lru.Cache[Key, Entry]
	ttl time.Duration
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type Option func(*ScoreCache)

// WithClock подменяет часы (для тестов TTL).
func WithClock(now func() time.Time) Option {
	return func(c *ScoreCache) { c.now = now }
}

func New(cfg Config, opts ...Option) (*ScoreCache, error) {
	if cfg.Capacity <= 0 {
		return nil, model.InvalidConfig("cache.capacity", "must be positive, got %d", cfg.Capacity)
	}
	if cfg.TTL < 0 {
		return nil, model.InvalidConfig("cache.ttl", "must not be negative, got %s", cfg.TTL)
	}
	l, err := lru.New[Key, Entry](cfg.Capacity)
	if err != nil {
		return nil, model.InvalidConfig("cache.capacity", "%v", err)
	}
	c := &ScoreCache{lru: l, ttl: cfg.TTL, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get возвращает копию записи; просроченная запись считается отсутствующей.
func (c *ScoreCache) Get(k Key) (Entry, bool) {
	e, ok := c.lru.Get(k)
	if ok && c.expired(e) {
		c.lru.Remove(k)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	e.Fields = slices.Clone(e.Fields)
	return e, true
}

func (c *ScoreCache) Put(k Key, e Entry) {
	e.Fields = slices.Clone(e.Fields)
	if e.StoredAt.IsZero() {
		e.StoredAt = c.now()
	}
	c.lru.Add(k, e)
}

func (c *ScoreCache) expired(e Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.StoredAt) >= c.ttl
}

func (c *ScoreCache) Len() int { return c.lru.Len() }

func (c *ScoreCache) Stats() Stats {
	return Stats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Purge очищает кэш и счётчики.
func (c *ScoreCache) Purge() {
	c.lru.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
}
