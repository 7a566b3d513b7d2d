// Package mocks provides centralized mock implementations for testing.
//
// The store mocks are small in-memory implementations that honour the
// contracts of the real PostgreSQL stores (claim ordering, conditional
// updates, outbox uniqueness), so component tests exercise realistic state
// transitions without a database. Every method can be overridden through a
// function field:
//
//	tasks := mocks.NewMockTaskStore()
//	tasks.UpdateStateFn = func(ctx context.Context, t *domain.ExtractionTask, g store.TaskGuard) error {
//	    return errors.New("database unavailable")
//	}
//
// Collaborator mocks record their calls for verification.
package mocks
