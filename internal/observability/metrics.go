package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

type Metrics struct {
	jobTicks       *CounterVec
	jobTickLatency *HistogramVec
	llmRequests    *CounterVec
	llmLatency     *HistogramVec
	draftFailures  *CounterVec
	repairs        *CounterVec
	queueDepth     *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

// Current returns the process metrics, or nil when Init was never called.
// Every method is a no-op on nil.
func Current() *Metrics { return instance }

func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		instance = New()
		log.Info("metrics initialized")
	})
	return instance
}

// New builds an unregistered Metrics value; tests use it directly.
func New() *Metrics {
	return &Metrics{
		jobTicks: NewCounterVec("bookdraft_job_ticks_total",
			"Job ticks by job type and outcome (done, yield, failed).", []string{"job_type", "outcome"}),
		jobTickLatency: NewHistogramVec("bookdraft_job_tick_seconds",
			"Wall time of one job tick.", []string{"job_type"}, []float64{1, 5, 15, 30, 60, 120, 300}),
		llmRequests: NewCounterVec("bookdraft_llm_requests_total",
			"LLM calls by provider and status.", []string{"provider", "status"}),
		llmLatency: NewHistogramVec("bookdraft_llm_request_seconds",
			"LLM call latency.", []string{"provider"}, []float64{1, 5, 15, 30, 60, 90, 120}),
		draftFailures: NewCounterVec("bookdraft_draft_validation_failures_total",
			"Draft attempts rejected by validation, by mode and first failing rule.", []string{"mode", "rule"}),
		repairs: NewCounterVec("bookdraft_draft_repairs_total",
			"Targeted repairs applied, by mode.", []string{"mode"}),
		queueDepth: NewGaugeVec("bookdraft_job_queue_depth",
			"job_run rows by status.", []string{"status"}),
	}
}

func (m *Metrics) ObserveTick(jobType, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobTicks.Inc(jobType, outcome)
	m.jobTickLatency.Observe(dur.Seconds(), jobType)
}

func (m *Metrics) ObserveLLMRequest(provider, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.Inc(provider, status)
	m.llmLatency.Observe(dur.Seconds(), provider)
}

func (m *Metrics) IncDraftFailure(mode, rule string) {
	if m == nil {
		return
	}
	m.draftFailures.Inc(mode, rule)
}

func (m *Metrics) AddRepairs(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairs.Add(float64(n), mode)
}

// StartServer serves the exposition on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil || addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.jobTicks, m.jobTickLatency, m.llmRequests, m.llmLatency, m.draftFailures, m.repairs, m.queueDepth,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// StartJobQueueCollector samples job_run counts by status every
// METRICS_SCRAPE_INTERVAL.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CollectJobQueue(ctx, db); err != nil {
					log.Warn("metrics: job queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) CollectJobQueue(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, s := range []string{types.StatusQueued, types.StatusRunning, types.StatusSucceeded, types.StatusFailed, types.StatusCanceled} {
		m.queueDepth.Set(0, s)
	}
	for _, row := range rows {
		m.queueDepth.Set(float64(row.Count), row.Status)
	}
	return nil
}
