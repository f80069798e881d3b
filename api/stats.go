package api

import (
	"net/http"

	"github.com/xraph/fanout/deliverylog"
)

type statsResponse struct {
	PendingJobs int64                        `json:"pending_jobs"`
	DLQSize     int64                        `json:"dlq_size"`
	Attempts    map[deliverylog.Status]int64 `json:"attempts"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var pending int64
	if h.pending != nil {
		n, err := h.pending.Pending(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		pending = n
	}

	dlqCount, err := h.store.CountDLQ(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byStatus, err := h.store.CountByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingJobs: pending,
		DLQSize:     dlqCount,
		Attempts:    byStatus,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}
