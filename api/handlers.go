package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/jacentio/lattice/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// resolve finds a model by name or table, case-insensitively.
func (s *Server) resolve(name string) (*store.Model, error) {
	for _, m := range s.store.Registry().Models() {
		if strings.EqualFold(m.Name, name) || strings.EqualFold(m.Table, name) {
			return s.store.Model(m.Name)
		}
	}
	return nil, &store.Error{Kind: store.ErrNotFound, Op: "Route", Err: fmt.Errorf("unknown model %q", name)}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := store.ParseQuery(m, r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.store.Find(r.Context(), m.Name, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, records(recs))
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.store.Create(r.Context(), m.Name, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusCreated, rec)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.store.Get(r.Context(), m.Name, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.store.Update(r.Context(), m.Name, chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, rec)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), m.Name, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) searchRecords(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		s.fail(w, r, &store.ValidationError{Model: m.Name, Field: "q", Reason: "search text is required"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, &store.ValidationError{Model: m.Name, Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := s.search.Search(r.Context(), s.store, m.Name, text, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusOK, records(recs))
}

// createChild creates a record of the child model referencing the parent in
// the URL. The parent must exist.
func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	parent, err := s.resolve(chi.URLParam(r, "model"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	child, err := s.resolve(chi.URLParam(r, "child"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rel, found := s.store.Registry().RelationBetween(parent.Name, child.Name)
	if !found {
		s.fail(w, r, &store.Error{Kind: store.ErrNotFound, Op: "Route", Err: fmt.Errorf("%s has no %s children", parent.Name, child.Name)})
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	body[rel.Field] = id

	// RequireParent references are checked atomically by Create.
	if !rel.RequireParent {
		if _, err := s.store.Get(r.Context(), parent.Name, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				err = &store.Error{Kind: store.ErrParentNotFound, Op: "ParentCheck", Err: fmt.Errorf("%s %s", parent.Name, id)}
			}
			s.fail(w, r, err)
			return
		}
	}

	rec, err := s.store.Create(r.Context(), child.Name, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, r, http.StatusCreated, rec)
}

// decodeBody reads a JSON object, keeping numbers as json.Number so integers
// beyond 2^53 reach the Type Mapper intact.
func decodeBody(r *http.Request) (store.Record, error) {
	body := store.Record{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, &store.ValidationError{Reason: "request body must be a JSON object: " + err.Error()}
	}
	return body, nil
}

func records(recs []store.Record) []store.Record {
	if recs == nil {
		return []store.Record{}
	}
	return recs
}
