package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const colorReset = "\033[0m"

// ResponseRecorder wraps an http.ResponseWriter to capture the status
// code and response size for logging.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	BodySize   int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *ResponseRecorder) WriteHeader(statusCode int) {
	r.StatusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *ResponseRecorder) Write(data []byte) (int, error) {
	n, err := r.ResponseWriter.Write(data)
	r.BodySize += n
	return n, err
}

func getStatusColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "\033[32m" // Green
	case statusCode >= 300 && statusCode < 400:
		return "\033[36m" // Cyan
	case statusCode >= 400 && statusCode < 500:
		return "\033[33m" // Yellow
	case statusCode >= 500:
		return "\033[31m" // Red
	}
	return colorReset
}

// LoggingMiddleware logs every request with method, path, status code
// and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := NewResponseRecorder(w)

		next.ServeHTTP(recorder, r)

		statusColor := getStatusColor(recorder.StatusCode)
		log.Infof("%s %s %s%d%s %dB %v from %s",
			r.Method, r.URL.Path,
			statusColor, recorder.StatusCode, colorReset,
			recorder.BodySize, time.Since(start), r.RemoteAddr)
	})
}
