package broadcast

import (
	"context"
	"errors"
)

var (
	// ErrNotAuthorized means the sender is unknown, archived, or lacks the
	// privilege for the requested scope. Nothing was sent.
	ErrNotAuthorized = errors.New("sender is not authorized")

	// ErrInvalidScope means no valid course remained after token filtering.
	// Nothing was sent.
	ErrInvalidScope = errors.New("no valid courses in scope")
)

// Admin is the engine's view of a sender.
type Admin struct {
	ID        int64
	Superuser bool
	FacultyID int64
	Archived  bool
}

// AdminStore resolves sender identities.
type AdminStore interface {
	AdminByID(ctx context.Context, id int64) (Admin, bool, error)
}

// Directory answers which groups exist and owns group pruning. Reads are
// fresh snapshots; the engine never caches across pair tasks.
type Directory interface {
	// GroupIDsByCourseFaculty lists group ids for a course; facultyID 0 means
	// the course across all faculties.
	GroupIDsByCourseFaculty(ctx context.Context, course int, facultyID int64) ([]int64, error)
	AllGroupIDs(ctx context.Context, excludeAdminCourse bool) ([]int64, error)
	FacultyIDByName(ctx context.Context, name string) (int64, bool, error)
	FacultyNameByID(ctx context.Context, id int64) (string, bool, error)
	DeleteGroup(ctx context.Context, id int64) error
}

// Ledger owns message and delivery-receipt persistence.
type Ledger interface {
	CreateMessage(ctx context.Context, text string, attachments []string, authorID int64) (int64, error)
	RecordReceipt(ctx context.Context, groupID, messageID int64, delivered bool) error
}

// Request is one broadcast invocation. Scope and FacultyNames arrive
// already tokenized from the command layer; the engine never parses raw
// command text.
type Request struct {
	Scope        Scope
	FacultyNames []string
	SenderID     int64
	Text         string
	Attachments  []string
}
