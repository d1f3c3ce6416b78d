// Package storage persists destinations, groups, scheduled and recurring
// posts, dispatch history and the operator audit log in SQLite.
//
// Times are stored as unix milliseconds; list-valued fields as JSON text.
// Attachment paths are mirrored into join tables so reference checks are
// plain queries.
package storage
