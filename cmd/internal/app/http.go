package app

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes is everything registerHTTP mounts.
type routes struct {
	log     Logger
	pool    *pgxpool.Pool
	metrics *prometheus.Registry
	auth    interface{ Register(*http.ServeMux) }
	ws      http.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.pool != nil {
			if err := PingDB(r.Context(), rt.pool, dbReadyTimeout); err != nil {
				rt.log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(rt.metrics, promhttp.HandlerOpts{Registry: rt.metrics}))

	rt.auth.Register(mux)
	mux.Handle("/ws", rt.ws)
}

// wrapHTTP applies the middleware chain, outermost first: request id, logging, recover.
func wrapHTTP(h http.Handler, log Logger) http.Handler {
	return WithRequestID(WithRequestLogging(WithRecover(h, log), log))
}
