// Package catalog is the read-only gateway to exam definitions. The
// authoring service owns the exam tables; this service only ever reads
// snapshots of them, with a Redis cache in front so attempt-path lookups
// stay off PostgreSQL.
package catalog

import (
	"context"
	"errors"

	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/google/uuid"
)

// Domain errors. Callers must be able to tell "no such exam" (no retry)
// apart from "catalog unreachable" (retryable), so the two are never folded
// into one error.
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrUnavailable  = errors.New("exam catalog unavailable")
)

// Gateway provides exam snapshots by public code or internal id.
type Gateway interface {
	GetByCode(ctx context.Context, code string) (*model.Exam, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}
