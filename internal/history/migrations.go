package history

// migration is a single schema change applied in version order.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS email_checks (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			check_time         TEXT,
			email_count        INTEGER,
			last_sender        TEXT,
			last_subject       TEXT,
			last_received_time TEXT,
			is_read            INTEGER DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_email_checks_unread ON email_checks (is_read, check_time);

		INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}
