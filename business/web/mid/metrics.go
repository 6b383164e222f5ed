package mid

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ardanlabs/mixnode/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "mixnode"
	subsystem = "http"
)

var (
	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "HTTP requests handled, by method and status code.",
	}, []string{"method", "code"})

	failures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "errors_total",
		Help:      "HTTP requests whose handler returned an error.",
	})

	panics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "panics_total",
		Help:      "HTTP handlers that panicked.",
	})
)

// RegisterMetrics adds the middleware collectors to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{requests, failures, panics} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Metrics counts requests and handler errors.
func Metrics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			// Errors runs outside this middleware and has not written the
			// response yet when a handler fails.
			code := http.StatusOK
			if err != nil {
				code = http.StatusInternalServerError
			}
			if v, verr := web.GetValues(ctx); verr == nil && v.StatusCode != 0 {
				code = v.StatusCode
			}
			requests.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()

			if err != nil {
				failures.Inc()
			}

			return err
		}

		return h
	}

	return m
}
