package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 进程内指标，注册在私有 Registry 上：
// - constguard_op_total{comp,stage,result}
// - constguard_error_total{comp,code}
// - constguard_op_duration_ms{comp,stage}
// - constguard_lines_total{kind}
var (
	metricsOnce sync.Once
	registry    *prometheus.Registry
	opTotal     *prometheus.CounterVec
	errorTotal  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	linesTotal  *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		registry = prometheus.NewRegistry()
		opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "constguard",
			Name:      "op_total",
			Help:      "Stage operations by result.",
		}, []string{"comp", "stage", "result"})
		errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "constguard",
			Name:      "error_total",
			Help:      "Errors by component and classification code.",
		}, []string{"comp", "code"})
		opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "constguard",
			Name:      "op_duration_ms",
			Help:      "Stage duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"comp", "stage"})
		linesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "constguard",
			Name:      "lines_total",
			Help:      "Input lines by outcome (blank, block, duplicate).",
		}, []string{"kind"})
		registry.MustRegister(opTotal, errorTotal, opDuration, linesTotal)
	})
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	initMetrics()
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	initMetrics()
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	initMetrics()
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddLines 按类别累加行数。
func AddLines(kind string, n int64) {
	if n <= 0 {
		return
	}
	initMetrics()
	linesTotal.WithLabelValues(kind).Add(float64(n))
}

// WriteMetrics 以 Prometheus 文本格式导出到 path（node_exporter textfile 约定）。
func WriteMetrics(path string) error {
	initMetrics()
	return prometheus.WriteToTextfile(path, registry)
}
