package storage

import "time"

// Admin is a broadcast sender. FacultyID is 0 for superusers without a home
// faculty; a non-superuser always has one. Archived admins keep their row
// (ledger rows reference them) but lose authorization.
type Admin struct {
	ID        int64
	Superuser bool
	FacultyID int64
	Archived  bool
}

type Faculty struct {
	ID   int64
	Name string
}

// AdminCourse is the sentinel course for admin-only rooms. Such groups never
// receive course or "everyone" broadcasts.
const AdminCourse = -1

type Group struct {
	ID        int64
	Course    int
	FacultyID int64
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
