package links

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/racegraph/platform/pkg/common/logger"
	"github.com/racegraph/platform/pkg/common/models"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/users/{userID}/drivers/{driverID}/link", h.handleDriverLink).Methods(http.MethodPut)
	router.HandleFunc("/users/{userID}/events/{eventID}/link", h.handleEventLink).Methods(http.MethodPut)
	router.HandleFunc("/users/{userID}/links/bulk", h.handleBulk).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleDriverLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	driverID, ok := pathUUID(w, r, "driverID")
	if !ok {
		return
	}

	req, ok := h.decodeStatus(w, r)
	if !ok {
		return
	}

	link, err := h.service.UpdateDriverLinkStatus(r.Context(), userID, driverID, LinkStatus(req.Status))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *HTTPHandler) handleEventLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}

	req, ok := h.decodeStatus(w, r)
	if !ok {
		return
	}

	link, err := h.service.UpdateDriverLinkStatusByEvent(r.Context(), userID, eventID, LinkStatus(req.Status))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *HTTPHandler) handleBulk(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req models.BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid bulk link payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := LinkStatus(req.Status)
	if !status.Valid() || !status.UserSettable() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	result := h.service.BulkUpdateByEvents(r.Context(), userID, req.EventIDs, status)

	code := http.StatusOK
	if result.Failed > 0 && result.Succeeded > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, result)
}

func (h *HTTPHandler) decodeStatus(w http.ResponseWriter, r *http.Request) (models.UpdateLinkRequest, bool) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req models.UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid link payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return models.UpdateLinkRequest{}, false
	}
	return req, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeLinkError(w http.ResponseWriter, err error) {
	switch KindOf(err) {
	case KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case KindConflict:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Log.WithError(err).Error("link operation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
