// Package store provides the data stores the response pipeline consumes:
// documents, agent configurations, conversation history and fetched
// binaries. The default implementation is in-memory; the pipeline only
// depends on the contracts interfaces, so a database-backed store can be
// swapped in without touching pipeline logic.
package store

import (
	"fmt"

	"github.com/kbchat/kbchat/pkg/contracts"
)

// Store composes every store surface the chat plane needs.
type Store interface {
	contracts.DocumentStore
	contracts.AgentStore
	contracts.HistoryStore
	contracts.BinaryStore

	Close() error
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
