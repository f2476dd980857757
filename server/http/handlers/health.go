package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"material-matcher/internal/matching/cache"
)

type health struct {
	Status  string      `json:"status"`
	Uptime  string      `json:"uptime"`
	Cache   cache.Stats `json:"cache"`
	HitRate float64     `json:"cacheHitRate"`
}

// Health — живость процесса и состояние общего кэша оценок.
func Health(started time.Time, c *cache.ScoreCache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := health{Status: "ok", Uptime: time.Since(started).Truncate(time.Second).String()}
		if c != nil {
			h.Cache = c.Stats()
			if total := h.Cache.Hits + h.Cache.Misses; total > 0 {
				h.HitRate = float64(h.Cache.Hits) / float64(total) * 100
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(h)
	}
}
