package api

import (
	"net/http"

	"github.com/mklimuk/frontdesk/pkg/automation"
)

type runJobResponse struct {
	Job    string `json:"job"`
	Result string `json:"result"`
}

func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []automation.JobStatus{}
	if h.Jobs != nil {
		jobs = h.Jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// HandleRunJob runs a job now and waits for it to finish.
func (h *Handler) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.Jobs == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no jobs configured"})
		return
	}
	result, err := h.Jobs.RunNow(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runJobResponse{Job: name, Result: result})
}
