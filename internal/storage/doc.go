// Package storage persists tasks, subtasks, per-user notification settings
// and the notification log.
//
// One SQL implementation serves both sqlite (modernc, pure Go) and postgres
// (pgx). Instants are stored as unix milliseconds in UTC so both dialects
// share every query.
package storage
