// Package storage persists the recipient directory and the delivery ledger.
//
// It currently holds:
//   - Admins (broadcast senders, superuser or faculty-scoped)
//   - Faculties (named organizational units)
//   - Student groups (chat rooms registered to receive broadcasts)
//   - Messages and per-group delivery receipts (the ledger)
//
// Everything lives in one SQLite database file. Group ids and admin ids are
// Telegram chat/user ids, assigned by the platform, never by us.
package storage
