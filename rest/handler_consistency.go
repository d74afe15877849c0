package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crossflow/crossflow/consistency"
)

// HandleConsistencyMessage accepts protocol traffic from peer nodes. The
// strategy name in the path has to match the active strategy so peers on
// mismatched deployments fail loudly instead of silently diverging.
func (s *Server) HandleConsistencyMessage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["strategy"]
	strategy := s.consistency.Strategy()
	if name != strategy.Name() {
		respondWithError(w, http.StatusNotFound, "node runs strategy "+strategy.Name())
		return
	}
	receiver, ok := strategy.(consistency.Receiver)
	if !ok {
		respondWithError(w, http.StatusNotFound, "strategy does not accept deliveries over http")
		return
	}

	var msg consistency.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed message")
		return
	}
	defer r.Body.Close()

	receiver.Receive(msg)
	respondOK(w, "received")
}
