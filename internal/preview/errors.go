// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package preview

import (
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/pkg/errutil"
)

// Error codes for preview operations.
const (
	CodeNoResults       = "NO_RESULTS"
	CodeNoActivePreview = "NO_ACTIVE_PREVIEW"
	CodePartialApply    = "PARTIAL_APPLY"
)

// Outcome statuses reported to actors.
const (
	StatusOK              = "ok"
	StatusNoResults       = "no_results"
	StatusNoActivePreview = "no_active_preview"
	StatusPartial         = "partial"
	StatusError           = "error"
)

// ErrNoResults reports a stage whose query matched nothing.
func ErrNoResults(actor uuid.UUID, cleared bool) error {
	return oops.Code(CodeNoResults).
		With("actor", actor.String()).
		With("cleared_previous", cleared).
		Errorf("no actions match the query")
}

// ErrNoActivePreview reports apply or cancel without a staged preview.
func ErrNoActivePreview(actor uuid.UUID) error {
	return oops.Code(CodeNoActivePreview).
		With("actor", actor.String()).
		Errorf("no active preview")
}

// ErrPartialApply reports an apply where some mutations failed.
func ErrPartialApply(actor uuid.UUID, r *ApplyResult) error {
	return oops.Code(CodePartialApply).
		With("actor", actor.String()).
		With("applied", r.Applied).
		With("failed", r.Failed).
		With("skipped", r.Skipped).
		Errorf("%d of %d changes failed", r.Failed, r.Applied+r.Failed)
}

// Status maps an operation error to the outcome reported to the actor.
func Status(err error) string {
	if err == nil {
		return StatusOK
	}
	switch errutil.Code(err) {
	case CodeNoResults:
		return StatusNoResults
	case CodeNoActivePreview:
		return StatusNoActivePreview
	case CodePartialApply:
		return StatusPartial
	}
	return StatusError
}

// IsStorageError reports whether err came from the action store.
func IsStorageError(err error) bool {
	return store.IsStorageError(err)
}
