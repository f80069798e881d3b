package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		AccountID: queryParam(r, "account_id"),
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

	entries, err := h.dlqSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	entry, err := h.dlqSvc.Get(r.Context(), dlqID)
	if err != nil {
		if errors.Is(err, fanout.ErrDLQNotFound) {
			writeError(w, http.StatusNotFound, "DLQ entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type replayResponse struct {
	JobID   string `json:"job_id"`
	EventID string `json:"event_id"`
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	job, replayErr := h.dlqSvc.Replay(r.Context(), dlqID)
	if replayErr != nil {
		switch {
		case errors.Is(replayErr, fanout.ErrDLQNotFound):
			writeError(w, http.StatusNotFound, "DLQ entry not found")
		case errors.Is(replayErr, fanout.ErrAlreadyReplayed):
			writeError(w, http.StatusConflict, "DLQ entry already replayed")
		default:
			writeError(w, http.StatusInternalServerError, replayErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, replayResponse{
		JobID:   job.ID.String(),
		EventID: job.Event.ID,
	})
}

type replayBulkRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

func (h *Handler) replayBulkDLQ(w http.ResponseWriter, r *http.Request) {
	var req replayBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	count, replayErr := h.dlqSvc.ReplayBulk(r.Context(), from, to)
	if replayErr != nil {
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"replayed": count})
}

func (h *Handler) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	before, err := queryTime(r, "before")
	if err != nil || before == nil {
		writeError(w, http.StatusBadRequest, "'before' is required (use RFC3339)")
		return
	}

	n, err := h.dlqSvc.Purge(r.Context(), *before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}
