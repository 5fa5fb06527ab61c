package app

import (
	"net/http"
	"strconv"
	"time"
)

func (s *HTTPServer) handleListPayouts(w http.ResponseWriter, r *http.Request, session Session) {
	payouts, err := s.service.ListPayouts(r.Context(), session, r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

func (s *HTTPServer) handleGetPayout(w http.ResponseWriter, r *http.Request, session Session) {
	payout, err := s.service.GetPayout(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (s *HTTPServer) handlePayoutStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var body PayoutStatusInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payout, err := s.service.UpdatePayoutStatus(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

// handleStatement streams the rendered file. from and to are dates
// (YYYY-MM-DD); to is exclusive.
func (s *HTTPServer) handleStatement(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	req := StatementRequest{Format: query.Get("format")}
	for name, dest := range map[string]*time.Time{"from": &req.From, "to": &req.To} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_DATE", name+" must be YYYY-MM-DD", nil)
			return
		}
		*dest = parsed
	}

	result, err := s.service.Statement(r.Context(), session, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleRunPayouts(w http.ResponseWriter, r *http.Request, session Session) {
	summary, err := s.service.RunPayouts(r.Context(), session)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
