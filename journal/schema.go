package journal

const Schema = `
CREATE TABLE IF NOT EXISTS replications (
	action_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	skipped INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replication_results (
	action_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	order_id TEXT NOT NULL,
	error_kind TEXT NOT NULL,
	error TEXT NOT NULL,
	skip_reason TEXT NOT NULL,
	scaled_amount TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	PRIMARY KEY (action_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_replications_finished ON replications(finished_at);
CREATE INDEX IF NOT EXISTS idx_results_status ON replication_results(status);
`
