package storageserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors a storage server exports on its
// side-channel admin mux, mirroring the name server's.
type Metrics struct {
	CommandsTotal  *prometheus.CounterVec
	WriteLocksHeld prometheus.Gauge
	BytesServed    prometheus.Counter
}

// NewMetrics registers this storage server's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfs_storageserver_commands_total",
			Help: "Commands handled by this storage server, by verb.",
		}, []string{"verb"}),
		WriteLocksHeld: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dfs_storageserver_write_locks_held",
			Help: "Sentence locks currently held by in-progress WRITE sessions.",
		}),
		BytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dfs_storageserver_bytes_served_total",
			Help: "Bytes returned by READ.",
		}),
	}
}

// AdminMux builds the health/metrics HTTP mux for this storage server.
func AdminMux(engine *Engine, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/debug/files", func(w http.ResponseWriter, req *http.Request) {
		files, err := engine.ListFiles()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		for _, f := range files {
			w.Write([]byte(f + "\n"))
		}
	})
	return r
}
