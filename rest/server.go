package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/consistency"
	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/workflow"
)

type Server struct {
	http.Server
	Port            int
	workflowService *workflow.Service
	persistence     *persistence.Service
	consistency     *consistency.Service
}

func NewServer(httpPort int, workflowService *workflow.Service, store *persistence.Service, consistencyService *consistency.Service) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		Port:            httpPort,
		workflowService: workflowService,
		persistence:     store,
		consistency:     consistencyService,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflows", s.HandleProposeWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows", s.HandleGetWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/launch", s.HandleLaunchInstance).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/instances", s.HandleGetInstances).Methods(http.MethodGet)
	router.HandleFunc("/instances/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/instances/{id}/advance", s.HandleAdvanceInstance).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}/payloads", s.HandleGetPayloads).Methods(http.MethodGet)
	router.HandleFunc("/rules", s.HandleRegisterRuleService).Methods(http.MethodPost)
	router.HandleFunc("/rules", s.HandleGetRuleServices).Methods(http.MethodGet)
	router.HandleFunc("/rules/{id}", s.HandleUnregisterRuleService).Methods(http.MethodDelete)
	router.HandleFunc("/_internal/consistency/{strategy}", s.HandleConsistencyMessage).Methods(http.MethodPost)
	router.HandleFunc("/status", s.HandleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ping", s.HandlePing).Methods(http.MethodGet)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func (s *Server) HandlePing(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	strategy := s.consistency.Strategy()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"organizationId": strategy.OrganizationIdentifier(),
		"strategy":       strategy.Name(),
		"status":         strategy.Status(r.Context()),
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondOK(w http.ResponseWriter, message string) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": message})
}
