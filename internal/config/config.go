package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"material-matcher/internal/matching/service"
)

type Config struct {
	Host         string
	Port         int
	AllowOrigins []string
	LogLevel     string
	MaxUploadMB  int
	LogFile      string
	RunsKept     int // сколько последних запусков держать для GET /runs/{id}

	// сопоставление; пустые значения — дефолты service.DefaultConfig
	Weights          string
	Threshold        float64
	SpecAcceptance   float64
	NumericPenalty   float64
	TopN             int
	MaxCandidates    int
	Workers          int
	ScoreParallelism int
	ResolverTimeout  time.Duration
	ResolverRPS      float64
	CacheCapacity    int
	CacheTTL         time.Duration
}

// Load читает окружение; .env в рабочем каталоге подхватывается, если есть,
// и не перекрывает уже выставленные переменные.
func Load() Config {
	_ = godotenv.Load()

	d := service.DefaultConfig()
	port, _ := strconv.Atoi(getenv("PORT", "8082"))
	mb, _ := strconv.Atoi(getenv("MAX_UPLOAD_MB", "256"))
	origins := strings.Split(getenv("ALLOW_ORIGINS", "*"), ",")
	return Config{
		Host:         getenv("HOST", "127.0.0.1"),
		Port:         port,
		AllowOrigins: origins,
		LogLevel:     getenv("LOG_LEVEL", "info"),
		MaxUploadMB:  mb,
		LogFile:      getenv("LOG_FILE", "logs/material-matcher.log"),
		RunsKept:     getint("RUNS_KEPT", 64),

		Weights:          getenv("MATCH_WEIGHTS", d.Weights.String()),
		Threshold:        getfloat("MATCH_THRESHOLD", d.Threshold),
		SpecAcceptance:   getfloat("MATCH_SPEC_ACCEPT", d.SpecAcceptance),
		NumericPenalty:   getfloat("MATCH_NUMERIC_PENALTY", d.NumericPenalty),
		TopN:             getint("MATCH_TOP_N", d.TopN),
		MaxCandidates:    getint("MATCH_MAX_CANDIDATES", d.MaxCandidates),
		Workers:          getint("MATCH_WORKERS", d.Workers),
		ScoreParallelism: getint("MATCH_SCORE_PARALLELISM", d.ScoreParallelism),
		ResolverTimeout:  getdur("MATCH_RESOLVER_TIMEOUT", d.ResolverTimeout),
		ResolverRPS:      getfloat("MATCH_RESOLVER_RPS", d.ResolverRPS),
		CacheCapacity:    getint("CACHE_CAPACITY", d.CacheCapacity),
		CacheTTL:         getdur("CACHE_TTL", d.CacheTTL),
	}
}

func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Match собирает и проверяет настройки сопоставления.
func (c Config) Match() (service.Config, error) {
	w, err := service.ParseWeights(c.Weights)
	if err != nil {
		return service.Config{}, err
	}
	m := service.Config{
		Weights:          w,
		Threshold:        c.Threshold,
		SpecAcceptance:   c.SpecAcceptance,
		NumericPenalty:   c.NumericPenalty,
		TopN:             c.TopN,
		MaxCandidates:    c.MaxCandidates,
		Workers:          c.Workers,
		ScoreParallelism: c.ScoreParallelism,
		ResolverTimeout:  c.ResolverTimeout,
		ResolverRPS:      c.ResolverRPS,
		CacheCapacity:    c.CacheCapacity,
		CacheTTL:         c.CacheTTL,
	}
	return m, m.Validate()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Нечитаемое значение — дефолт; явные ошибки ловит Validate на диапазонах.
func getint(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func getfloat(k string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64)
	if err != nil {
		return def
	}
	return v
}

func getdur(k string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}
