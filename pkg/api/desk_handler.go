package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/mklimuk/frontdesk/pkg/courier"
	"github.com/mklimuk/frontdesk/pkg/incident"
	"github.com/mklimuk/frontdesk/pkg/sendup"
)

// CourierView is one direction of the current week as the tally table shows it.
type CourierView struct {
	WeekKey   string            `json:"weekKey"`
	Label     string            `json:"label"`
	Direction courier.Direction `json:"direction"`
	Days      []string          `json:"days"`
	Couriers  []courier.Courier `json:"couriers"`
	Counts    courier.Counts    `json:"counts"`
	Totals    map[string]int    `json:"totals"`
	DayTotals map[string]int    `json:"dayTotals"`
	Total     int               `json:"total"`
}

func NewCourierView(weekKey string, dir courier.Direction, counts courier.Counts) CourierView {
	return CourierView{
		WeekKey:   weekKey,
		Label:     courier.Label(weekKey),
		Direction: dir,
		Days:      courier.Days,
		Couriers:  courier.Couriers,
		Counts:    counts,
		Totals:    counts.Totals(),
		DayTotals: counts.DayTotals(),
		Total:     counts.Total(),
	}
}

type archiveSummary struct {
	Index     int    `json:"index"`
	WeekStart string `json:"weekStart"`
	Label     string `json:"label"`
}

type adjustRequest struct {
	Courier string `json:"courier"`
	Delta   int    `json:"delta"`
}

// currentCourier answers with the current week in the direction named by the
// path, or by the ?direction= query.
func (h *Handler) currentCourier(w http.ResponseWriter, r *http.Request, dir courier.Direction) {
	key, week, err := h.Courier.Current(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourierView(key, dir, week.Counts(dir)))
}

func (h *Handler) direction(w http.ResponseWriter, r *http.Request, s string) (courier.Direction, bool) {
	dir, err := courier.ParseDirection(s)
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return dir, true
}

func (h *Handler) HandleGetCourier(w http.ResponseWriter, r *http.Request) {
	dir, ok := h.direction(w, r, r.URL.Query().Get("direction"))
	if !ok {
		return
	}
	h.currentCourier(w, r, dir)
}

func (h *Handler) HandleAdjustCourier(w http.ResponseWriter, r *http.Request) {
	dir, ok := h.direction(w, r, r.PathValue("direction"))
	if !ok {
		return
	}
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Courier.Adjust(r.Context(), dir, req.Courier, req.Delta); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentCourier(w, r, dir)
}

// HandleManualCourier adds a batch of counts keyed by courier id to today.
func (h *Handler) HandleManualCourier(w http.ResponseWriter, r *http.Request) {
	dir, ok := h.direction(w, r, r.PathValue("direction"))
	if !ok {
		return
	}
	var values map[string]int
	if !decodeBody(w, r, &values) {
		return
	}
	if _, err := h.Courier.AddManual(r.Context(), dir, values); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentCourier(w, r, dir)
}

func (h *Handler) HandleArchiveWeek(w http.ResponseWriter, r *http.Request) {
	if err := h.Courier.Archive(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentCourier(w, r, courier.Incoming)
}

func (h *Handler) HandleListArchives(w http.ResponseWriter, r *http.Request) {
	archives := h.Courier.Archives()
	list := make([]archiveSummary, 0, len(archives))
	for i, a := range archives {
		list = append(list, archiveSummary{Index: i, WeekStart: a.WeekStart, Label: a.Label()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archives": list})
}

func (h *Handler) HandleGetArchive(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}
	dir, ok := h.direction(w, r, r.URL.Query().Get("direction"))
	if !ok {
		return
	}
	a, err := h.Courier.Archived(index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourierView(a.WeekStart, dir, a.Week().Counts(dir)))
}

func (h *Handler) HandleRecoveryCheck(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Courier.RecoveryCheck(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recovery": rec})
}

func (h *Handler) HandleCompleteArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.Courier.CompleteArchive(r.Context(), r.PathValue("week")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendUpView is one list with its labels laid out for printing.
type SendUpView struct {
	sendup.List
	Labels []string   `json:"labels"`
	Grid   [][]string `json:"grid"`
}

type labelRequest struct {
	Label string `json:"label"`
}

func (h *Handler) sendUpView(id string) (SendUpView, error) {
	grid, err := h.SendUp.Grid(id)
	if err != nil {
		return SendUpView{}, err
	}
	for _, l := range h.SendUp.Lists() {
		if l.ID == id {
			return SendUpView{List: l, Labels: h.SendUp.Labels(id), Grid: grid}, nil
		}
	}
	return SendUpView{}, fmt.Errorf("list %s vanished", id)
}

func (h *Handler) HandleListSendUp(w http.ResponseWriter, r *http.Request) {
	lists := h.SendUp.Lists()
	views := make([]SendUpView, 0, len(lists))
	for _, l := range lists {
		v, err := h.sendUpView(l.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lists": views})
}

func (h *Handler) HandleGetSendUp(w http.ResponseWriter, r *http.Request) {
	v, err := h.sendUpView(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) HandleAddLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := h.SendUp.Add(r.Context(), id, req.Label); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.HandleGetSendUp(w, r)
}

func (h *Handler) HandleRemoveLabel(w http.ResponseWriter, r *http.Request) {
	if err := h.SendUp.Remove(r.Context(), r.PathValue("id"), r.PathValue("label")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.HandleGetSendUp(w, r)
}

type suggestRequest struct {
	Description string `json:"description"`
}

// IncidentStats feeds the dashboard charts.
type IncidentStats struct {
	Summary      incident.Summary         `json:"summary"`
	Monthly      incident.MonthlyCounts   `json:"monthly"`
	TopLocations []incident.LocationCount `json:"topLocations"`
}

const topLocations = 7

// HandleListIncidents returns the unified log; ?live=true drops the legacy
// entries.
func (h *Handler) HandleListIncidents(w http.ResponseWriter, r *http.Request) {
	list := h.Incidents.All()
	if r.URL.Query().Get("live") == "true" {
		list = h.Incidents.Live()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": list})
}

func (h *Handler) HandleAddIncident(w http.ResponseWriter, r *http.Request) {
	var form incident.Form
	if !decodeBody(w, r, &form) {
		return
	}
	inc, err := h.Incidents.Add(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *Handler) HandleSuggestLocation(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.Incidents.Suggest(r.Context(), req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) HandleIncidentStats(w http.ResponseWriter, r *http.Request) {
	list := h.Incidents.All()
	now := h.now()
	writeJSON(w, http.StatusOK, IncidentStats{
		Summary:      incident.Summarize(list, now),
		Monthly:      incident.Monthly(list, now),
		TopLocations: incident.TopLocations(list, topLocations),
	})
}

func (h *Handler) HandleIncidentLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": h.Incidents.Locations(),
		"custom":    incident.CustomLocation,
	})
}

// HandleExportIncidents downloads the report as CSV, or as a workbook with
// ?format=xlsx.
func (h *Handler) HandleExportIncidents(w http.ResponseWriter, r *http.Request) {
	list := h.Incidents.All()
	var (
		buf         bytes.Buffer
		ext         string
		contentType string
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		if err := incident.WriteCSV(&buf, list); err != nil {
			h.writeError(w, r, err)
			return
		}
		ext, contentType = "csv", "text/csv; charset=utf-8"
	case "xlsx":
		data, err := incident.XLSX(list)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		buf.Write(data)
		ext, contentType = "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported format " + format, Field: "format"})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", incident.ReportName(h.now(), ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type contactView struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Tel   string `json:"tel"`
}

func (h *Handler) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	list := make([]contactView, 0, len(h.Contacts))
	for _, c := range h.Contacts {
		list = append(list, contactView{Name: c.Name, Phone: c.Phone, Tel: c.TelURI()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": list})
}
