package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/newtron-network/eline/pkg/evc"
)

// UserHeader names the caller recorded in the audit trail.
const UserHeader = "X-Eline-User"

func (s *Server) registerEVCRoutes(r *mux.Router) {
	r.HandleFunc("/evc/", makeHTTPHandler(s.listCircuits)).Methods(http.MethodGet)
	r.HandleFunc("/evc/", makeHTTPHandler(s.createCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/evc/{circuit_id}", makeHTTPHandler(s.getCircuit)).Methods(http.MethodGet)
	r.HandleFunc("/evc/{circuit_id}", makeHTTPHandler(s.patchCircuit)).Methods(http.MethodPatch)
	r.HandleFunc("/evc/{circuit_id}", makeHTTPHandler(s.deleteCircuit)).Methods(http.MethodDelete)
	r.HandleFunc("/evc/{circuit_id}/redeploy", makeHTTPHandler(s.redeployCircuit)).Methods(http.MethodPatch)
}

func actorOf(r *http.Request) evc.Actor {
	user := r.Header.Get(UserHeader)
	if user == "" {
		user = "anonymous"
	}
	return evc.Actor{User: user, ClientIP: clientIP(r)}
}

func (s *Server) listCircuits(_ http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	archived := false
	if v := r.URL.Query().Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return 0, nil, badRequest("archived must be true or false, got %q", v)
		}
		archived = b
	}
	return http.StatusOK, s.circuits.List(r.Context(), archived), nil
}

func (s *Server) createCircuit(_ http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	body, err := readJSON(r)
	if err != nil {
		return 0, nil, err
	}
	e, err := s.circuits.Create(r.Context(), body, actorOf(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, e, nil
}

func (s *Server) getCircuit(_ http.ResponseWriter, r *http.Request, vars map[string]string) (int, interface{}, error) {
	e, err := s.circuits.Get(r.Context(), vars["circuit_id"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, e, nil
}

func (s *Server) patchCircuit(_ http.ResponseWriter, r *http.Request, vars map[string]string) (int, interface{}, error) {
	body, err := readJSON(r)
	if err != nil {
		return 0, nil, err
	}
	e, err := s.circuits.Patch(r.Context(), vars["circuit_id"], body, actorOf(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, e, nil
}

// DeleteResponse is the body of a successful DELETE /evc/{id}
type DeleteResponse struct {
	Response string `json:"response"`
}

func (s *Server) deleteCircuit(_ http.ResponseWriter, r *http.Request, vars map[string]string) (int, interface{}, error) {
	id := vars["circuit_id"]
	if err := s.circuits.Delete(r.Context(), id, actorOf(r)); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, DeleteResponse{Response: fmt.Sprintf("Circuit %s removed", id)}, nil
}

func (s *Server) redeployCircuit(_ http.ResponseWriter, r *http.Request, vars map[string]string) (int, interface{}, error) {
	e, err := s.circuits.Redeploy(r.Context(), vars["circuit_id"], actorOf(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusAccepted, e, nil
}
