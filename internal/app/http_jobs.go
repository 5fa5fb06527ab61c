package app

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"refery/api/internal/jobboard"
	"refery/api/internal/jobimport"
)

// maxImportBytes bounds the multipart body for spreadsheet imports.
const maxImportBytes = 10 << 20

func parseJobFilter(query url.Values) (jobboard.Filter, error) {
	f := jobboard.Filter{
		Query:          query.Get("q"),
		Location:       query.Get("location"),
		EmploymentType: query.Get("employmentType"),
		Status:         query.Get("status"),
		PosterID:       query.Get("posterId"),
		Sort:           query.Get("sort"),
	}
	if raw := query.Get("remote"); raw != "" {
		remote, err := strconv.ParseBool(raw)
		if err != nil {
			return jobboard.Filter{}, fmt.Errorf("%w: remote must be true or false", jobboard.ErrInvalidFilter)
		}
		f.Remote = &remote
	}
	if raw := query.Get("minReward"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return jobboard.Filter{}, fmt.Errorf("%w: minReward must be a non-negative integer", jobboard.ErrInvalidFilter)
		}
		f.MinReward = v
	}
	if raw := query.Get("skills"); raw != "" {
		for _, skill := range strings.Split(raw, ",") {
			if skill = strings.TrimSpace(skill); skill != "" {
				f.Skills = append(f.Skills, skill)
			}
		}
	}
	for name, dest := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return jobboard.Filter{}, fmt.Errorf("%w: %s must be an integer", jobboard.ErrInvalidFilter, name)
		}
		*dest = v
	}
	return f, nil
}

func (s *HTTPServer) handleJobBoard(w http.ResponseWriter, r *http.Request, session Session) {
	filter, err := parseJobFilter(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, invalidFilter(err))
		return
	}
	page, err := s.service.Board(r.Context(), session, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleManagedJobs(w http.ResponseWriter, r *http.Request, session Session) {
	filter, err := parseJobFilter(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, invalidFilter(err))
		return
	}
	page, err := s.service.ManagedJobs(r.Context(), session, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleGetJob(w http.ResponseWriter, r *http.Request, session Session) {
	job, err := s.service.GetJob(r.Context(), session, pathVar(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request, session Session) {
	var body JobInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	job, err := s.service.CreateJob(r.Context(), session, body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *HTTPServer) handleUpdateJob(w http.ResponseWriter, r *http.Request, session Session) {
	var body JobInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	job, err := s.service.UpdateJob(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var body JobStatusInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	job, err := s.service.SetJobStatus(r.Context(), session, pathVar(r, "id"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteJob(r.Context(), session, pathVar(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleJobHistory(w http.ResponseWriter, r *http.Request, session Session) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	revisions, err := s.service.JobHistory(r.Context(), session, pathVar(r, "id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handleJobRevision(w http.ResponseWriter, r *http.Request, session Session) {
	revision, err := s.service.JobRevision(r.Context(), session, pathVar(r, "id"), pathVar(r, "hash"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revision)
}

func (s *HTTPServer) handleImportJobs(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart upload with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing file field", nil)
		return
	}
	defer file.Close()

	publish, _ := strconv.ParseBool(r.URL.Query().Get("publish"))
	result, err := s.service.ImportJobs(r.Context(), session, header.Filename, file, publish)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"created": result.Created,
		"errors":  result.Errors,
		"maxRows": jobimport.MaxRows,
	})
}
