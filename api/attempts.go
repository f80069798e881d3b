package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/fanout/deliverylog"
)

func (h *Handler) listEventAttempts(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")

	attempts, err := h.store.ListByEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(attempts) == 0 {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	opts := deliverylog.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		AccountID: queryParam(r, "account_id"),
	}

	if v := queryParam(r, "destination_id"); v != "" {
		destID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid destination_id")
			return
		}
		opts.DestinationID = &destID
	}

	if v := queryParam(r, "status"); v != "" {
		status := deliverylog.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		opts.Status = status
	}

	var err error
	if opts.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}
