package postgres

// SQL queries for per-account offset persistence

const (
	// queryUpsertOffset writes an account's cursor position.
	// ON CONFLICT makes the write an atomic last-writer-wins upsert, so a
	// crash between fetch and persist never leaves a torn record.
	queryUpsertOffset = `
		INSERT INTO account_offsets (
			account_id, cursor, last_event_time, schema_version, updated_at
		)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			cursor          = EXCLUDED.cursor,
			last_event_time = EXCLUDED.last_event_time,
			schema_version  = EXCLUDED.schema_version,
			updated_at      = EXCLUDED.updated_at
	`

	// queryReadOffset fetches one account's record. The schema_version
	// filter happens in Go so an unknown version can be logged before it
	// is reported as absent.
	queryReadOffset = `
		SELECT account_id, cursor, last_event_time, schema_version, updated_at
		FROM account_offsets
		WHERE account_id = $1
	`

	// queryDeleteOffset removes one account's record. Zero rows affected
	// is fine: delete is idempotent.
	queryDeleteOffset = `
		DELETE FROM account_offsets
		WHERE account_id = $1
	`
)
