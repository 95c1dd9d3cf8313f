// Package api serves the circuit and statistics REST interfaces.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/newtron-network/eline/pkg/evc"
	"github.com/newtron-network/eline/pkg/metrics"
	"github.com/newtron-network/eline/pkg/stats"
	"github.com/newtron-network/eline/pkg/version"
)

// Default mount points of the circuit and statistics routes.
const (
	DefaultEVCPrefix   = "/api/kytos/mef_eline/v2"
	DefaultStatsPrefix = "/api/amlight/kytos_stats/v1"
)

const (
	readHeaderTimeout = 30 * time.Second
	idleTimeout       = 90 * time.Second
	maxHeaderBytes    = 1 << 20
	maxBodyBytes      = 1 << 20
)

// Circuits is what the EVC routes need from an *evc.Manager.
type Circuits interface {
	Get(ctx context.Context, id string) (*evc.EVC, error)
	List(ctx context.Context, includeArchived bool) map[string]*evc.EVC
	Counts() (total, enabled, active int)
	Create(ctx context.Context, body []byte, actor evc.Actor) (*evc.EVC, error)
	Patch(ctx context.Context, id string, body []byte, actor evc.Actor) (*evc.EVC, error)
	Delete(ctx context.Context, id string, actor evc.Actor) error
	Redeploy(ctx context.Context, id string, actor evc.Actor) (*evc.EVC, error)
}

// Stats is what the statistics routes need from a *stats.Aggregator.
type Stats interface {
	FlowStats(dpids []string) (map[string]map[string]stats.FlowRecord, error)
	TableStats(dpids, tables []string) (map[string]map[string]stats.TableRecord, error)
	PacketCount(flowID string) (stats.PacketCounter, error)
	BytesCount(flowID string) (stats.BytesCounter, error)
	PacketCountPerFlow(dpid string) ([]stats.PacketCounter, error)
	BytesCountPerFlow(dpid string) ([]stats.BytesCounter, error)
	LastRefresh() time.Time
}

// Options configures a Server. Stats may be nil, in which case the
// statistics routes are not registered.
type Options struct {
	Circuits    Circuits
	Stats       Stats
	EVCPrefix   string
	StatsPrefix string
}

// Server routes requests to the circuit manager and stats aggregator.
type Server struct {
	circuits Circuits
	stats    Stats
	router   *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{
		circuits: opts.Circuits,
		stats:    opts.Stats,
		router:   mux.NewRouter(),
	}
	s.router.Use(s.observe)
	// Middleware only runs on matched routes.
	s.router.NotFoundHandler = s.observe(http.HandlerFunc(notFound))
	s.router.MethodNotAllowedHandler = s.observe(http.HandlerFunc(methodNotAllowed))

	s.registerEVCRoutes(s.router.PathPrefix(strings.TrimSuffix(opts.EVCPrefix, "/")).Subrouter())
	if s.stats != nil {
		s.registerStatsRoutes(s.router.PathPrefix(strings.TrimSuffix(opts.StatsPrefix, "/")).Subrouter())
	}

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/status", makeHTTPHandler(s.status)).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Version     string         `json:"version"`
	Circuits    map[string]int `json:"circuits"`
	LastRefresh *string        `json:"stats_last_refresh"`
}

func (s *Server) status(_ http.ResponseWriter, _ *http.Request, _ map[string]string) (int, interface{}, error) {
	total, enabled, active := s.circuits.Counts()
	resp := StatusResponse{
		Version: version.Info(),
		Circuits: map[string]int{
			"total":   total,
			"enabled": enabled,
			"active":  active,
		},
	}
	if s.stats != nil {
		if t := s.stats.LastRefresh(); !t.IsZero() {
			ts := t.UTC().Format(time.RFC3339)
			resp.LastRefresh = &ts
		}
	}
	return http.StatusOK, resp, nil
}
