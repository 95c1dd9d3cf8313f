package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) registerStatsRoutes(r *mux.Router) {
	r.HandleFunc("/flow/stats", makeHTTPHandler(s.flowStats)).Methods(http.MethodGet)
	r.HandleFunc("/table/stats", makeHTTPHandler(s.tableStats)).Methods(http.MethodGet)
	r.HandleFunc("/packet_count/per_flow/{dpid}", makeHTTPHandler(s.packetCountPerFlow)).Methods(http.MethodGet)
	r.HandleFunc("/bytes_count/per_flow/{dpid}", makeHTTPHandler(s.bytesCountPerFlow)).Methods(http.MethodGet)
	r.HandleFunc("/packet_count/{flow_id}", makeHTTPHandler(s.packetCount)).Methods(http.MethodGet)
	r.HandleFunc("/bytes_count/{flow_id}", makeHTTPHandler(s.bytesCount)).Methods(http.MethodGet)
}

func (s *Server) flowStats(_ http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	resp, err := s.stats.FlowStats(r.URL.Query()["dpid"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) tableStats(_ http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	q := r.URL.Query()
	resp, err := s.stats.TableStats(q["dpid"], q["table"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) packetCount(_ http.ResponseWriter, _ *http.Request, vars map[string]string) (int, interface{}, error) {
	resp, err := s.stats.PacketCount(vars["flow_id"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) bytesCount(_ http.ResponseWriter, _ *http.Request, vars map[string]string) (int, interface{}, error) {
	resp, err := s.stats.BytesCount(vars["flow_id"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) packetCountPerFlow(_ http.ResponseWriter, _ *http.Request, vars map[string]string) (int, interface{}, error) {
	resp, err := s.stats.PacketCountPerFlow(vars["dpid"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) bytesCountPerFlow(_ http.ResponseWriter, _ *http.Request, vars map[string]string) (int, interface{}, error) {
	resp, err := s.stats.BytesCountPerFlow(vars["dpid"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}
