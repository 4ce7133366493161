package api

import (
	"net/http"
)

// NewRouter creates a new HTTP router
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /notes", h.HandleListNotes)
	mux.HandleFunc("POST /notes", h.HandleAddNote)
	mux.HandleFunc("PATCH /notes/{id}", h.HandleUpdateNote)
	mux.HandleFunc("DELETE /notes/{id}", h.HandleDeleteNote)

	mux.HandleFunc("GET /shift", h.HandleGetShift)
	mux.HandleFunc("POST /shift/members/{roster}", h.HandleAddMember)
	mux.HandleFunc("PUT /shift/members/{roster}/{index}", h.HandleUpdateMember)
	mux.HandleFunc("PUT /shift/team", h.HandleSetTeam)
	mux.HandleFunc("POST /shift/tasks", h.HandleAddTask)
	mux.HandleFunc("PATCH /shift/tasks/{task}", h.HandleUpdateTask)
	mux.HandleFunc("DELETE /shift/tasks/{task}", h.HandleDeleteTask)
	mux.HandleFunc("PUT /shift/tasks/{task}/slots/{slot}", h.HandleAssignTask)
	mux.HandleFunc("POST /shift/tasks/{task}/complete", h.HandleCompleteTask)
	mux.HandleFunc("POST /shift/reset", h.HandleResetShift)

	mux.HandleFunc("GET /courier", h.HandleGetCourier)
	mux.HandleFunc("POST /courier/{direction}/adjust", h.HandleAdjustCourier)
	mux.HandleFunc("POST /courier/{direction}/manual", h.HandleManualCourier)
	mux.HandleFunc("POST /courier/archive", h.HandleArchiveWeek)
	mux.HandleFunc("GET /courier/archives", h.HandleListArchives)
	mux.HandleFunc("GET /courier/archives/{index}", h.HandleGetArchive)
	mux.HandleFunc("GET /courier/recovery", h.HandleRecoveryCheck)
	mux.HandleFunc("POST /courier/recovery/{week}/complete", h.HandleCompleteArchive)

	mux.HandleFunc("GET /sendup", h.HandleListSendUp)
	mux.HandleFunc("GET /sendup/{id}", h.HandleGetSendUp)
	mux.HandleFunc("POST /sendup/{id}/labels", h.HandleAddLabel)
	mux.HandleFunc("DELETE /sendup/{id}/labels/{label}", h.HandleRemoveLabel)

	mux.HandleFunc("GET /incidents", h.HandleListIncidents)
	mux.HandleFunc("POST /incidents", h.HandleAddIncident)
	mux.HandleFunc("POST /incidents/suggest", h.HandleSuggestLocation)
	mux.HandleFunc("GET /incidents/stats", h.HandleIncidentStats)
	mux.HandleFunc("GET /incidents/locations", h.HandleIncidentLocations)
	mux.HandleFunc("GET /incidents/export", h.HandleExportIncidents)

	mux.HandleFunc("GET /contacts", h.HandleListContacts)

	mux.HandleFunc("GET /jobs", h.HandleListJobs)
	mux.HandleFunc("POST /jobs/{name}/run", h.HandleRunJob)

	if h.Hub != nil {
		mux.Handle("GET /ws", h.Hub)
	}

	return mux
}
