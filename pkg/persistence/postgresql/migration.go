package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL
// persistence layer.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				graph JSONB NOT NULL,
				trigger_config JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_automations_status
				ON automations (status) WHERE deleted_at IS NULL;

			CREATE INDEX IF NOT EXISTS idx_automations_trigger_event
				ON automations ((trigger_config->>'event_type')) WHERE deleted_at IS NULL;
		`,
		2: `
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				automation_id TEXT NOT NULL,
				subscriber_id TEXT NOT NULL,
				current_node_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_transition_at TIMESTAMP WITH TIME ZONE NOT NULL,
				steps_taken INTEGER NOT NULL DEFAULT 0,
				failure_reason TEXT NOT NULL DEFAULT '',
				history JSONB NOT NULL DEFAULT '[]',
				lease_owner TEXT,
				lease_expires_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_executions_automation
				ON executions (automation_id);

			-- At most one open instance per automation and subscriber.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_open_unique
				ON executions (automation_id, subscriber_id)
				WHERE status IN ('active', 'waiting_delay');
		`,
	}
}
