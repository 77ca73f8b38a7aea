// Package store persists documents, chunks and threads in Postgres with pgvector.
package store

import (
	"errors"
	"time"

	"github.com/aimerfeng/docagent/internal/monitoring"
)

// ErrNotFound is returned when a row does not exist or belongs to another user
var ErrNotFound = errors.New("not found")

func observe(queryType string, start time.Time) {
	monitoring.RecordDBQuery(queryType, time.Since(start))
}
