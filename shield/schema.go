package shield

import "database/sql"

// Schema defines the rate_limits table read by RateLimiter. Rows are
// keyed by "METHOD /path"; absent endpoints are unlimited. The statement
// is idempotent, apply with Init or execute manually.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
