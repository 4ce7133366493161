package api

import (
	"net/http"

	"github.com/mklimuk/frontdesk/pkg/passon"
	"github.com/mklimuk/frontdesk/pkg/shift"
)

type addNoteRequest struct {
	Text string `json:"text"`
}

type updateNoteRequest struct {
	Text      *string `json:"text"`
	Urgency   *string `json:"urgency"`
	Completed *bool   `json:"completed"`
}

func (h *Handler) HandleListNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": h.Notes.Notes()})
}

func (h *Handler) HandleAddNote(w http.ResponseWriter, r *http.Request) {
	var req addNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	note, err := h.Notes.Add(r.Context(), req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *Handler) HandleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.Urgency != nil {
		u, err := passon.ParseUrgency(*req.Urgency)
		if err == nil {
			err = h.Notes.SetUrgency(ctx, id, u)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.Text != nil {
		if err := h.Notes.Edit(ctx, id, *req.Text); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.Completed != nil {
		if err := h.Notes.SetCompleted(ctx, id, *req.Completed); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": h.Notes.Notes()})
}

func (h *Handler) HandleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.Notes.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShiftView is the board with its categories in display order.
type ShiftView struct {
	shift.Data
	Categories []string     `json:"categories"`
	Teams      []shift.Team `json:"teams"`
}

func NewShiftView(d shift.Data) ShiftView {
	return ShiftView{Data: d, Categories: d.Categories(), Teams: shift.Teams}
}

type memberRequest struct {
	Name string `json:"name"`
}

type teamRequest struct {
	Team shift.Team `json:"team"`
}

type taskRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

type assignRequest struct {
	Assignee string `json:"assignee"`
}

func (h *Handler) HandleGetShift(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewShiftView(h.Shift.Data()))
}

// shiftDone answers a board action with the board after it.
func (h *Handler) shiftDone(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewShiftView(h.Shift.Data()))
}

func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.AddMember(r.Context(), shift.Roster(r.PathValue("roster")), req.Name))
}

// HandleUpdateMember renames a member; an empty name removes them.
func (h *Handler) HandleUpdateMember(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}
	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.UpdateMember(r.Context(), shift.Roster(r.PathValue("roster")), index, req.Name))
}

func (h *Handler) HandleSetTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.SetTeam(r.Context(), req.Team))
}

func (h *Handler) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.AddTask(r.Context(), req.Category, req.Name))
}

func (h *Handler) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.UpdateTask(r.Context(), r.PathValue("task"), req.Category, req.Name))
}

func (h *Handler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	h.shiftDone(w, r, h.Shift.DeleteTask(r.Context(), r.PathValue("task")))
}

func (h *Handler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	slot, ok := pathInt(w, r, "slot")
	if !ok {
		return
	}
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.shiftDone(w, r, h.Shift.AssignTask(r.Context(), r.PathValue("task"), slot, req.Assignee))
}

func (h *Handler) HandleCompleteTask(w http.ResponseWriter, r *http.Request) {
	h.shiftDone(w, r, h.Shift.CompleteTask(r.Context(), r.PathValue("task")))
}

func (h *Handler) HandleResetShift(w http.ResponseWriter, r *http.Request) {
	h.shiftDone(w, r, h.Shift.Reset(r.Context()))
}
