package middleware

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	RequestsForbidden  uint64
	RequestsLimited    uint64
	UploadsTotal       uint64
	UploadsFailed      uint64
	UploadedBytes      uint64
	AnalysesTotal      uint64
	AnalysesFailed     uint64
	ResultsSaved       uint64
	ResultsFetched     uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests() { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func IncrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func DecrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func IncrementSuccess() { atomic.AddUint64(&globalMetrics.RequestsSuccess, 1) }
func IncrementFailed() { atomic.AddUint64(&globalMetrics.RequestsFailed, 1) }
func IncrementForbidden() { atomic.AddUint64(&globalMetrics.RequestsForbidden, 1) }
func IncrementRateLimited() { atomic.AddUint64(&globalMetrics.RequestsLimited, 1) }

// RecordUpload counts one relayed upload and its size when it succeeded.
func RecordUpload(bytes int64, err error) {
	atomic.AddUint64(&globalMetrics.UploadsTotal, 1)
	if err != nil {
		atomic.AddUint64(&globalMetrics.UploadsFailed, 1)
		return
	}
	if bytes > 0 {
		atomic.AddUint64(&globalMetrics.UploadedBytes, uint64(bytes))
	}
}

func RecordAnalysis(err error) {
	atomic.AddUint64(&globalMetrics.AnalysesTotal, 1)
	if err != nil {
		atomic.AddUint64(&globalMetrics.AnalysesFailed, 1)
	}
}

func IncrementResultsSaved() { atomic.AddUint64(&globalMetrics.ResultsSaved, 1) }
func IncrementResultsFetched() { atomic.AddUint64(&globalMetrics.ResultsFetched, 1) }

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"requests_forbidden":   atomic.LoadUint64(&globalMetrics.RequestsForbidden),
		"requests_limited":     atomic.LoadUint64(&globalMetrics.RequestsLimited),
		"uploads_total":        atomic.LoadUint64(&globalMetrics.UploadsTotal),
		"uploads_failed":       atomic.LoadUint64(&globalMetrics.UploadsFailed),
		"uploaded_bytes":       atomic.LoadUint64(&globalMetrics.UploadedBytes),
		"analyses_total":       atomic.LoadUint64(&globalMetrics.AnalysesTotal),
		"analyses_failed":      atomic.LoadUint64(&globalMetrics.AnalysesFailed),
		"results_saved":        atomic.LoadUint64(&globalMetrics.ResultsSaved),
		"results_fetched":      atomic.LoadUint64(&globalMetrics.ResultsFetched),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := wrap(w)
		next.ServeHTTP(wrapped, r)

		switch {
		case wrapped.statusCode == http.StatusForbidden:
			IncrementForbidden()
			IncrementFailed()
		case wrapped.statusCode >= 200 && wrapped.statusCode < 400:
			IncrementSuccess()
		default:
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, GetMetrics())
}
