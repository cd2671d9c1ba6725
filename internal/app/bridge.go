package app

import (
	"context"

	"campusbot/internal/broadcast"
	"campusbot/internal/storage"
)

// adminStore bridges the storage layer to the engine's sender-resolution
// interface. The directory and ledger interfaces are satisfied by
// *storage.Store directly; only the Admin type needs translating.
type adminStore struct {
	st *storage.Store
}

func (b adminStore) AdminByID(ctx context.Context, id int64) (broadcast.Admin, bool, error) {
	a, ok, err := b.st.AdminByID(ctx, id)
	if err != nil || !ok {
		return broadcast.Admin{}, false, err
	}
	return broadcast.Admin{
		ID:        a.ID,
		Superuser: a.Superuser,
		FacultyID: a.FacultyID,
		Archived:  a.Archived,
	}, true, nil
}
