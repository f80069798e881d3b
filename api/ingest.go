package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/fanout/admission"
	"github.com/xraph/fanout/ratelimit"
)

// Ingestion headers.
const (
	HeaderToken   = "CL-X-TOKEN"
	HeaderEventID = "CL-X-EVENT-ID"
)

// Rate limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

func (h *Handler) incomingData(w http.ResponseWriter, r *http.Request) {
	received := time.Now().UTC()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, admission.ReasonInvalidBody.Message())
		return
	}

	d := h.gate.Admit(r.Context(), admission.Request{
		Token:       r.Header.Get(HeaderToken),
		EventID:     r.Header.Get(HeaderEventID),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		ReceivedAt:  received,
	})

	if d.Rate != nil {
		setRateHeaders(w, *d.Rate)
	}

	if !d.Accepted {
		if d.Err != nil {
			h.logger.ErrorContext(r.Context(), "ingestion failed",
				"event_id", r.Header.Get(HeaderEventID),
				"error", d.Err,
			)
		}
		writeError(w, d.Status, d.Reason.Message())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: d.Reason.Message()})
}

func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	hdr := w.Header()
	hdr.Set(HeaderRateLimit, strconv.Itoa(res.Limit))
	hdr.Set(HeaderRateRemaining, strconv.Itoa(res.Remaining))
	hdr.Set(HeaderRateReset, strconv.FormatInt(res.ResetSeconds(), 10))
}
