package observer

import (
	"strconv"
	"time"

	"codesandbox/internal/sandbox/result"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codesandbox"

// PrometheusRecorder exports judge metrics through a prometheus registry.
type PrometheusRecorder struct {
	submissions    *prometheus.CounterVec
	submissionTime *prometheus.HistogramVec
	active         prometheus.Gauge
	compiles       *prometheus.CounterVec
	compileTime    *prometheus.HistogramVec
	cases          *prometheus.CounterVec
	caseTime       *prometheus.HistogramVec
	caseMemory     *prometheus.HistogramVec
	slotRejections prometheus.Counter
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of judged submissions",
		}, []string{"language", "backend", "status"}),
		submissionTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_ms",
			Help:      "Wall time of a whole judge in milliseconds",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"language"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_submissions",
			Help:      "Submissions currently being judged",
		}),
		compiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Total number of compile steps",
		}, []string{"language", "ok"}),
		compileTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_ms",
			Help:      "Compile step duration in milliseconds",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"language"}),
		cases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_total",
			Help:      "Total number of test case runs by verdict",
		}, []string{"language", "verdict"}),
		caseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_duration_ms",
			Help:      "Test case wall time in milliseconds",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"language"}),
		caseMemory: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_memory_kb",
			Help:      "Peak memory per test case in KB",
			Buckets:   []float64{1024, 4096, 16384, 65536, 131072, 262144, 524288},
		}, []string{"language"}),
		slotRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_rejections_total",
			Help:      "Requests rejected because every worker slot was busy",
		}),
	}
}

func (r *PrometheusRecorder) SubmissionStarted(string) {
	r.active.Inc()
}

func (r *PrometheusRecorder) SubmissionFinished(language, backend string, status result.SubmissionStatus, elapsed time.Duration) {
	r.active.Dec()
	r.submissions.WithLabelValues(language, backend, string(status)).Inc()
	r.submissionTime.WithLabelValues(language).Observe(float64(elapsed.Milliseconds()))
}

func (r *PrometheusRecorder) CompileFinished(language string, ok bool, elapsed time.Duration) {
	r.compiles.WithLabelValues(language, strconv.FormatBool(ok)).Inc()
	r.compileTime.WithLabelValues(language).Observe(float64(elapsed.Milliseconds()))
}

func (r *PrometheusRecorder) CaseFinished(language string, verdict result.Verdict, raw result.RawResult) {
	r.cases.WithLabelValues(language, string(verdict)).Inc()
	r.caseTime.WithLabelValues(language).Observe(float64(raw.TimeMs))
	r.caseMemory.WithLabelValues(language).Observe(float64(raw.MemoryKB))
}

func (r *PrometheusRecorder) SlotRejected() {
	r.slotRejections.Inc()
}
