package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/statechart"
	"github.com/crossflow/crossflow/workflow"
)

type proposeWorkflowRequest struct {
	Model  statechart.Model      `json:"model"`
	Config *model.WorkflowConfig `json:"config,omitempty"`
}

type advanceInstanceRequest struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) HandleProposeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req proposeWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow proposal")
		return
	}
	defer r.Body.Close()
	proposed, err := s.workflowService.ProposeWorkflow(r.Context(), req.Model, req.Config)
	if err != nil {
		logger.Error("error proposing workflow", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, proposed)
}

func (s *Server) HandleGetWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.workflowService.GetWorkflows(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error reading workflows")
		return
	}
	respondWithJSON(w, http.StatusOK, workflows)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	at, ok, err := timeParam(r, "at")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed timestamp")
		return
	}

	var wf *model.Workflow
	if ok {
		wf, err = s.workflowService.WorkflowStateAt(r.Context(), id, at)
	} else {
		wf, err = s.workflowService.GetWorkflow(r.Context(), id)
	}
	if err != nil {
		respondNotFoundOrError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleLaunchInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	instance, err := s.workflowService.LaunchWorkflowInstance(r.Context(), id)
	if err != nil {
		logger.Error("error launching workflow instance", zap.String("workflow", id), zap.Error(err))
		respondNotFoundOrError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, instance)
}

func (s *Server) HandleGetInstances(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	instances, err := s.workflowService.GetWorkflowInstances(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error reading workflow instances")
		return
	}
	respondWithJSON(w, http.StatusOK, instances)
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	at, ok, err := timeParam(r, "at")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed timestamp")
		return
	}

	var instance *model.WorkflowInstance
	if ok {
		instance, err = s.workflowService.InstanceStateAt(r.Context(), id, at)
	} else {
		instance, err = s.workflowService.GetWorkflowInstance(r.Context(), id)
	}
	if err != nil {
		respondNotFoundOrError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleAdvanceInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req advanceInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed advance request")
		return
	}
	defer r.Body.Close()
	transition, err := s.workflowService.AdvanceWorkflowInstance(r.Context(), id, req.Event, req.Payload)
	if err != nil {
		logger.Error("error advancing workflow instance", zap.String("instance", id), zap.Error(err))
		respondNotFoundOrError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transition)
}

func (s *Server) HandleGetPayloads(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	until, ok, err := timeParam(r, "until")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed timestamp")
		return
	}
	if !ok {
		until = time.Now().UTC()
	}

	payloads, err := s.workflowService.TransitionPayloadsUntil(r.Context(), id, until)
	if err != nil {
		respondNotFoundOrError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payloads)
}

// timeParam parses an RFC 3339 timestamp query parameter. The second
// return value reports whether the parameter was present.
func timeParam(r *http.Request, name string) (time.Time, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func respondNotFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrWorkflowNotFound) || errors.Is(err, workflow.ErrInstanceNotFound) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	respondWithError(w, http.StatusBadRequest, err.Error())
}
