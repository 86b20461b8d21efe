package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rpcqueue/internal/wire"
)

// SubmitResponse is returned when a batch was accepted.
type SubmitResponse struct {
	Run     string `json:"run"`
	Records int    `json:"records"`
}

// handleSubmitRecords accepts a wire batch for the run in the URL.
//
// The request blocks while any queue is at capacity. 202 means every queue
// admitted the batch, not that it was written. A batch no queue or sink can
// take is refused with 413.
func (s *Server) handleSubmitRecords(w http.ResponseWriter, r *http.Request) {
	run := chi.URLParam(r, "run")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}

	batch, err := wire.Decode(body, run)
	switch {
	case errors.Is(err, wire.ErrNoRecords), errors.Is(err, wire.ErrMissingRun):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if batch.Run != run {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "run in body does not match URL")
		return
	}

	if err := s.relay.Submit(batch.Run, batch.Payload()); err != nil {
		if !writeRelayError(w, err) {
			s.logger.Error("submit failed", "run", batch.Run, "error", err)
			writeInternalError(w, "submit failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{Run: batch.Run, Records: len(batch.Records)})
}
