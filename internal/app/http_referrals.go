package app

import (
	"net/http"

	"refery/api/internal/storage"
)

func (s *HTTPServer) handleJobReferrals(w http.ResponseWriter, r *http.Request, session Session) {
	referrals, err := s.service.JobReferrals(r.Context(), session, pathVar(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"referrals": referrals})
}

func (s *HTTPServer) handleCreateReferral(w http.ResponseWriter, r *http.Request, session Session) {
	var body ReferralInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	referral, err := s.service.CreateReferral(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, referral)
}

func (s *HTTPServer) handleCreateLink(w http.ResponseWriter, r *http.Request, session Session) {
	link, err := s.service.CreateLink(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *HTTPServer) handleResolveLink(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.service.ResolveLink(r.Context(), pathVar(r, "code"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *HTTPServer) handleApply(w http.ResponseWriter, r *http.Request, session Session) {
	var body ApplyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	referral, err := s.service.Apply(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, referral)
}

func (s *HTTPServer) handleListReferrals(w http.ResponseWriter, r *http.Request, session Session) {
	referrals, err := s.service.ListReferrals(r.Context(), session, r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"referrals": referrals})
}

func (s *HTTPServer) handleGetReferral(w http.ResponseWriter, r *http.Request, session Session) {
	referral, err := s.service.GetReferral(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, referral)
}

func (s *HTTPServer) handleReferralStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var body StatusInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	referral, err := s.service.TransitionReferral(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, referral)
}

func (s *HTTPServer) handleReferralEvents(w http.ResponseWriter, r *http.Request, session Session) {
	events, err := s.service.ReferralEvents(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleUploadResume(w http.ResponseWriter, r *http.Request, session Session) {
	limit := int64(storage.MaxResumeBytes + 1<<20)
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart upload with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing file field", nil)
		return
	}
	defer file.Close()

	referral, err := s.service.UploadResume(r.Context(), session, pathVar(r, "id"), header.Filename, file, header.Size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, referral)
}

func (s *HTTPServer) handleResumeURL(w http.ResponseWriter, r *http.Request, session Session) {
	url, err := s.service.ResumeURL(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "expiresIn": int(resumeLinkTTL.Seconds())})
}
