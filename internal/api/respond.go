// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/preview"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/pkg/errutil"
)

// Outcome is the body of every preview workflow response.
type Outcome struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

// httpStatus maps an error code to its HTTP status.
func httpStatus(code string) int {
	switch code {
	case query.CodeInvalidParams, query.CodeInvalidQuery:
		return http.StatusBadRequest
	case preview.CodeNoResults, preview.CodePartialApply:
		return http.StatusOK
	case preview.CodeNoActivePreview:
		return http.StatusConflict
	}
	if strings.HasPrefix(code, "STORAGE_") {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError reports err and returns the outcome status for metrics.
// Internal failures are logged and their message withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, details any) string {
	code := errutil.Code(err)
	status := httpStatus(code)
	out := Outcome{Status: preview.Status(err), Code: code, Message: err.Error(), Details: details}

	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, "api request failed", oops.With("path", r.URL.Path).Wrap(err))
		if !store.IsStorageError(err) {
			out.Message = "internal error"
		}
	}
	if out.Details == nil {
		if oopsErr, ok := oops.AsOops(err); ok && status < http.StatusInternalServerError {
			out.Details = publicContext(oopsErr.Context())
		}
	}
	writeJSON(w, status, out)
	return out.Status
}

// publicContext keeps the context keys safe to show to callers.
func publicContext(ctx map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range []string{"cleared_previous", "key", "column", "query", "direction", "pattern"} {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func badRequest(format string, args ...any) error {
	return oops.Code(query.CodeInvalidParams).Errorf(format, args...)
}
