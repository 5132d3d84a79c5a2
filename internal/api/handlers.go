// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/preview"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
)

// ActionView is an action as the API shows it.
type ActionView struct {
	action.Action
	Source string `json:"source"`
}

func viewOf(a action.Action) ActionView {
	return ActionView{Action: a, Source: a.SourceDisplay()}
}

// PreviewView summarizes a staged preview.
type PreviewView struct {
	ID        string              `json:"id"`
	Direction string              `json:"direction"`
	StagedAt  time.Time           `json:"staged_at"`
	Total     int                 `json:"total"`
	Counts    map[action.Kind]int `json:"counts"`
	Replaced  bool                `json:"replaced,omitempty"`
	Actions   []ActionView        `json:"actions,omitempty"`
}

func previewView(p *preview.Preview, withActions bool) PreviewView {
	v := PreviewView{
		ID:        p.ID.String(),
		Direction: p.Direction.String(),
		StagedAt:  p.StagedAt,
		Total:     len(p.Actions),
		Counts:    p.Counts(),
	}
	if withActions {
		for _, a := range p.Actions {
			v.Actions = append(v.Actions, viewOf(a))
		}
	}
	return v
}

// FailureView is one mutation the host rejected.
type FailureView struct {
	ID    string          `json:"id"`
	Kind  action.Kind     `json:"kind"`
	World string          `json:"world"`
	Pos   action.Position `json:"pos"`
	Error string          `json:"error"`
}

// ApplyView summarizes an apply.
type ApplyView struct {
	PreviewID string        `json:"preview_id"`
	Direction string        `json:"direction"`
	Applied   int           `json:"applied"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Failures  []FailureView `json:"failures,omitempty"`
}

func applyView(r *preview.ApplyResult) ApplyView {
	v := ApplyView{
		PreviewID: r.PreviewID.String(),
		Direction: r.Direction.String(),
		Applied:   r.Applied,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, FailureView{
			ID:    f.Action.ID.String(),
			Kind:  f.Action.Kind,
			World: string(f.Action.World),
			Pos:   f.Action.Pos,
			Error: f.Err.Error(),
		})
	}
	return v
}

// parseOrigin reads an optional x/y/z triple. All three or none.
func parseOrigin(r *http.Request) (*action.Position, error) {
	q := r.URL.Query()
	raw := []string{q.Get("x"), q.Get("y"), q.Get("z")}
	if raw[0] == "" && raw[1] == "" && raw[2] == "" {
		return nil, nil //nolint:nilnil // no origin given
	}
	var coords [3]int
	for i, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, badRequest("origin needs integer x, y and z")
		}
		coords[i] = n
	}
	return &action.Position{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

func actorOf(r *http.Request) (uuid.UUID, error) {
	actor, err := uuid.Parse(chi.URLParam(r, "actor"))
	if err != nil {
		return uuid.Nil, badRequest("actor must be a UUID")
	}
	return actor, nil
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) string {
	origin, err := parseOrigin(r)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	params, err := query.Parse(r.URL.Query().Get("q"), query.ParseContext{Origin: origin, Now: s.now()})
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	if params.Limit == 0 {
		params.Limit = DefaultListLimit
	}
	params.Limit = min(params.Limit, MaxListLimit)

	actions, err := s.store.Query(r.Context(), params)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	views := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, viewOf(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "actions": views})
	return preview.StatusOK
}

func (s *Server) suggestSources(w http.ResponseWriter, r *http.Request) string {
	var players []string
	if dir, ok := s.store.(store.PlayerDirectory); ok {
		names, err := dir.PlayerNames(r.Context())
		if err != nil {
			return s.writeError(w, r, err, nil)
		}
		players = names
	}
	suggestions := query.SuggestSources(r.URL.Query().Get("prefix"), players)
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
	return preview.StatusOK
}

// StageRequest is the body of POST /v1/actors/{actor}/preview.
type StageRequest struct {
	Direction string           `json:"direction"`
	Query     string           `json:"query"`
	Origin    *action.Position `json:"origin,omitempty"`
}

func (s *Server) stage(w http.ResponseWriter, r *http.Request) string {
	actor, err := actorOf(r)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	var req StageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return s.writeError(w, r, badRequest("invalid request body: %v", err), nil)
	}
	d, err := preview.ParseDirection(req.Direction)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	params, err := query.Parse(req.Query, query.ParseContext{Origin: req.Origin, Now: s.now()})
	if err != nil {
		return s.writeError(w, r, err, nil)
	}

	res, err := s.engine.Stage(r.Context(), actor, params, d)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	v := previewView(res.Preview, false)
	v.Replaced = res.Replaced
	writeJSON(w, http.StatusOK, Outcome{Status: preview.StatusOK, Details: v})
	return preview.StatusOK
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) string {
	actor, err := actorOf(r)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	res, err := s.engine.Apply(r.Context(), actor)
	if err != nil {
		var details any
		if res != nil {
			details = applyView(res)
		}
		return s.writeError(w, r, err, details)
	}
	writeJSON(w, http.StatusOK, Outcome{Status: preview.StatusOK, Details: applyView(res)})
	return preview.StatusOK
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) string {
	actor, err := actorOf(r)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	if err := s.engine.Cancel(r.Context(), actor); err != nil {
		return s.writeError(w, r, err, nil)
	}
	writeJSON(w, http.StatusOK, Outcome{Status: preview.StatusOK})
	return preview.StatusOK
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) string {
	actor, err := actorOf(r)
	if err != nil {
		return s.writeError(w, r, err, nil)
	}
	p, ok := s.engine.Get(actor)
	if !ok {
		writeJSON(w, http.StatusNotFound, Outcome{Status: preview.StatusNoActivePreview, Code: preview.CodeNoActivePreview})
		return preview.StatusNoActivePreview
	}
	writeJSON(w, http.StatusOK, Outcome{Status: preview.StatusOK, Details: previewView(p, true)})
	return preview.StatusOK
}
