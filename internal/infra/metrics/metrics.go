package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	PostsFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_posts_fetched_total",
		Help: "Новые посты, сохранённые при синхронизации",
	})

	PagesFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_pages_fetched_total",
		Help: "Страницы истории, полученные с платформы",
	})

	AccountsSyncedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_accounts_total",
		Help: "Синхронизации аккаунтов по причине остановки",
	}, []string{"reason"})

	SummaryCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_cache_total",
		Help: "Проверки кэша сводок",
	}, []string{"result"})

	GenerationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summary_generation_failures_total",
		Help: "Неудачные генерации сводок",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		PostsFetchedTotal,
		PagesFetchedTotal,
		AccountsSyncedTotal,
		SummaryCacheTotal,
		GenerationFailuresTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveAccountSync учитывает завершённую синхронизацию аккаунта.
func ObserveAccountSync(reason string, fetched, pages int) {
	AccountsSyncedTotal.WithLabelValues(reason).Inc()
	PostsFetchedTotal.Add(float64(fetched))
	PagesFetchedTotal.Add(float64(pages))
}

// ObserveSummaryCache учитывает попадание или промах кэша сводок.
func ObserveSummaryCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SummaryCacheTotal.WithLabelValues(result).Inc()
}

// IncGenerationFailure увеличивает счётчик неудачных генераций.
func IncGenerationFailure() {
	GenerationFailuresTotal.Inc()
}
