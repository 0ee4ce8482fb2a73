package main

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/middleware"
	"socialqueue/internal/models"
	"socialqueue/internal/service"
	"socialqueue/internal/validation"
)

// scheduleBody is the JSON body of POST and PUT /scheduled. Credentials and
// payload arrive as serialized JSON strings.
type scheduleBody struct {
	ID           string `json:"uuid"`
	ScheduleDate string `json:"scheduleDate"`
	OAuth        string `json:"oauth"`
	Payload      string `json:"payload"`
	BlockUID     string `json:"blockUid"`
}

type successResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

type listResponse struct {
	ScheduledTweets []models.EntryView `json:"scheduledTweets"`
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.OwnerFromContext(r.Context())

		var body scheduleBody
		if err := decodeBody(w, r, &body); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		scheduledAt, err := validation.ParseScheduleDate(body.ScheduleDate)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		id, err := s.queue.Enqueue(r.Context(), owner, service.EnqueueRequest{
			ScheduledAt:    scheduledAt,
			Credentials:    body.OAuth,
			Payload:        body.Payload,
			SourceBlockRef: body.BlockUID,
		})
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, ID: id})
	}
}

// handleRead serves a single entry when ?id= is given and the caller's
// whole list otherwise.
func (s *Server) handleRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.OwnerFromContext(r.Context())

		if id := entryIDFromQuery(r); id != "" {
			view, err := s.queue.Get(r.Context(), owner, id)
			if err != nil {
				middleware.WriteError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return
		}

		views, err := s.queue.List(r.Context(), owner)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if views == nil {
			views = []models.EntryView{}
		}
		writeJSON(w, http.StatusOK, listResponse{ScheduledTweets: views})
	}
}

func (s *Server) handleUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.OwnerFromContext(r.Context())

		var body scheduleBody
		if err := decodeBody(w, r, &body); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if body.ID == "" {
			body.ID = entryIDFromQuery(r)
		}
		if body.ID == "" {
			middleware.WriteError(w, r, apperrors.NewValidationError("uuid", "is required"))
			return
		}
		scheduledAt, err := validation.ParseScheduleDate(body.ScheduleDate)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		err = s.queue.Update(r.Context(), owner, body.ID, service.UpdateRequest{
			ScheduledAt:    scheduledAt,
			Payload:        body.Payload,
			Credentials:    body.OAuth,
			SourceBlockRef: body.BlockUID,
		})
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

func (s *Server) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.OwnerFromContext(r.Context())

		id := entryIDFromQuery(r)
		if id == "" && r.ContentLength != 0 {
			var body scheduleBody
			if err := decodeBody(w, r, &body); err != nil {
				middleware.WriteError(w, r, err)
				return
			}
			id = body.ID
		}
		if id == "" {
			middleware.WriteError(w, r, apperrors.NewValidationError("uuid", "is required"))
			return
		}

		if err := s.queue.Cancel(r.Context(), owner, id); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// entryIDFromQuery accepts both ?id= and ?uuid=.
func entryIDFromQuery(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		return id
	}
	return q.Get("uuid")
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return apperrors.New(apperrors.ErrCodeInvalidInput, "request body too large").
				WithUserMessage("Request body too large")
		case stderrors.Is(err, io.EOF):
			return apperrors.NewValidationError("body", "is required")
		default:
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed JSON body").
				WithUserMessage("Request body must be a JSON object")
		}
	}
	return nil
}
