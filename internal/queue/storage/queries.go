package storage

// SQL for the queue table. Status values are bound as parameters; the CASE
// branches are cast explicitly because Postgres cannot infer their type.
const (
	// claimSelectQuery locks up to $3 ready rows. NOWAIT makes a concurrent
	// claimer fail with lock_not_available instead of blocking on our rows.
	claimSelectQuery = `
		SELECT eventid, queueid, event, status, created_at
		FROM queue
		WHERE queueid = $1
		  AND status = $2
		ORDER BY eventid
		LIMIT $3
		FOR UPDATE NOWAIT
	`

	claimLockQuery = `
		UPDATE queue
		SET status = $1,
		    updated_at = NOW()
		WHERE eventid = ANY($2)
	`

	// settleQuery acknowledges $1 and requeues every other id in $2
	settleQuery = `
		UPDATE queue
		SET status = CASE WHEN eventid = ANY($1) THEN $3::smallint ELSE $4::smallint END,
		    updated_at = NOW()
		WHERE eventid = ANY($2)
	`

	deleteEventsQuery = `
		DELETE FROM queue
		WHERE eventid = ANY($1)
	`

	setStatusQuery = `
		UPDATE queue
		SET status = $1,
		    updated_at = NOW()
		WHERE eventid = ANY($2)
	`

	enqueueQuery = `
		INSERT INTO queue (queueid, event, status)
		VALUES ($1, $2, $3)
		RETURNING eventid
	`

	countByStatusQuery = `
		SELECT status, COUNT(*) AS total
		FROM queue
		WHERE queueid = $1
		GROUP BY status
	`
)
