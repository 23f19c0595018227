package nameserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors the name server exports on its
// side-channel admin mux (see SPEC_FULL.md §4.12).
type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	RegistrationsOK prometheus.Counter
	SSEvicted       prometheus.Counter
	ActiveSS        prometheus.Gauge
}

// NewMetrics registers the name server's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfs_nameserver_commands_total",
			Help: "Commands dispatched by the name server router, by verb.",
		}, []string{"verb"}),
		RegistrationsOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "dfs_nameserver_registrations_total",
			Help: "Successful storage server registrations.",
		}),
		SSEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dfs_nameserver_ss_evicted_total",
			Help: "Storage servers evicted for failing the liveness probe.",
		}),
		ActiveSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dfs_nameserver_active_storage_servers",
			Help: "Currently registered storage servers.",
		}),
	}
}

// AdminMux builds the health/metrics/debug HTTP mux bound to the name
// server's metrics side-channel address.
func AdminMux(state *State, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/debug/index", func(w http.ResponseWriter, req *http.Request) {
		type entry struct {
			Name  string `json:"name"`
			Owner string `json:"owner"`
			SSIDs []int  `json:"ss_ids"`
		}
		var out []entry
		state.WithLock(func() {
			state.Index.Iter(func(m *FileMeta) {
				out = append(out, entry{Name: m.Name, Owner: m.Owner, SSIDs: m.SSIDList()})
			})
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
	return r
}
