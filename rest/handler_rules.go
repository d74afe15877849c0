package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
)

type registerRuleServiceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) HandleRegisterRuleService(w http.ResponseWriter, r *http.Request) {
	var req registerRuleServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed rule service registration")
		return
	}
	defer r.Body.Close()
	if req.Name == "" || req.URL == "" {
		respondWithError(w, http.StatusBadRequest, "rule service needs name and url")
		return
	}
	service, err := s.persistence.RegisterRuleService(r.Context(), req.Name, req.URL)
	if err != nil {
		logger.Error("error registering rule service", zap.String("name", req.Name), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error registering rule service")
		return
	}
	respondWithJSON(w, http.StatusCreated, service)
}

func (s *Server) HandleGetRuleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.persistence.GetRuleServices(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error reading rule services")
		return
	}
	respondWithJSON(w, http.StatusOK, services)
}

func (s *Server) HandleUnregisterRuleService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.persistence.UnregisterRuleService(r.Context(), id); err != nil {
		respondWithError(w, http.StatusNotFound, "unknown rule service "+id)
		return
	}
	respondOK(w, "unregistered")
}
