package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.host.Status())
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.host.Status().Devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, d := range s.host.Status().Devices {
		if d.Name == name {
			respondJSON(w, http.StatusOK, d)
			return
		}
	}
	respondError(w, http.StatusNotFound, "device not found")
}

func (s *Server) handleListPipes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.host.Status().Pipes)
}

func (s *Server) handleStartPipe(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, pc := range s.host.PipeConfigs() {
		if pc.Name == name {
			if err := s.host.StartPipe(pc); err != nil {
				respondError(w, http.StatusConflict, err.Error())
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
			return
		}
	}
	respondError(w, http.StatusNotFound, "pipe not configured")
}

func (s *Server) handleStopPipe(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.host.StopPipe(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
