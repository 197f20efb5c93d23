// Package storage persists queue state and the accounts index as JSON
// files under the storage root. Writes are atomic (temp file in the
// same directory, fsync, rename) so readers never observe a
// half-written file; corrupt files are quarantined rather than
// blocking startup.
package storage

import "github.com/claudeutils/claude-queue/internal/types"

// Store is the persistence interface for queue state and account metadata.
type Store interface {
	// LoadQueueState returns the on-disk state, or an empty state when
	// the file is absent. A corrupt file is renamed aside with a
	// ".corrupt" suffix and an empty state is returned.
	LoadQueueState() (*types.QueueState, error)

	// SaveQueueState writes the state atomically.
	SaveQueueState(state *types.QueueState) error

	// LoadAccountsIndex returns the on-disk index, or an empty index
	// when absent. Same corruption contract as LoadQueueState.
	LoadAccountsIndex() (*types.AccountsIndex, error)

	// SaveAccountsIndex writes the index atomically.
	SaveAccountsIndex(index *types.AccountsIndex) error
}
