package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/jacentio/lattice/store"
)

// Response is the envelope of every JSON response.
type Response struct {
	Data  any        `json:"data,omitempty"`
	Count int        `json:"count,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func ok(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := Response{Data: data}
	if recs, isList := data.([]store.Record); isList {
		resp.Count = len(recs)
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	render.Status(r, status)
	render.JSON(w, r, Response{Error: &ErrorBody{Kind: kind, Message: err.Error()}})
}

// classify maps the error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrParentNotFound):
		return http.StatusNotFound, "parent_not_found"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotRouted):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrThrottled), errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrTableNotFound), errors.Is(err, store.ErrProvisioningTimeout):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
