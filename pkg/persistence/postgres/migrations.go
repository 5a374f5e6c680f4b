package postgres

// migrations returns the schema migrations keyed by version. The partial
// unique index on active participants is what enforces the single active
// run per (journey, user) pair under concurrent triggers.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journeys (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger_type TEXT NOT NULL,
				trigger_event TEXT,
				segment_id TEXT,
				tick_cron TEXT,
				graph JSONB NOT NULL,
				start_date TIMESTAMP WITH TIME ZONE,
				end_date TIMESTAMP WITH TIME ZONE,
				re_entry_policy JSONB NOT NULL,
				conversion_goal JSONB,
				exit_rules JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_journeys_status ON journeys (status);
			CREATE INDEX IF NOT EXISTS idx_journeys_trigger
				ON journeys (trigger_type, trigger_event) WHERE status = 'active';
		`,
		2: `
			CREATE TABLE IF NOT EXISTS participants (
				id TEXT PRIMARY KEY,
				journey_id TEXT NOT NULL REFERENCES journeys (id),
				user_id TEXT NOT NULL,
				status TEXT NOT NULL,
				current_node_id TEXT NOT NULL,
				entered_node_at TIMESTAMP WITH TIME ZONE NOT NULL,
				entered_journey_at TIMESTAMP WITH TIME ZONE NOT NULL,
				next_run_at TIMESTAMP WITH TIME ZONE,
				claimed_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				history JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_single_active
				ON participants (journey_id, user_id) WHERE status = 'active';
			CREATE INDEX IF NOT EXISTS idx_participants_due
				ON participants (next_run_at) WHERE status = 'active' AND next_run_at IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_participants_user
				ON participants (user_id) WHERE status = 'active';
			CREATE INDEX IF NOT EXISTS idx_participants_journey ON participants (journey_id);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS event_log (
				id BIGSERIAL PRIMARY KEY,
				user_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_event_log_lookup
				ON event_log (user_id, event_type, occurred_at);
		`,
		4: `
			CREATE TABLE IF NOT EXISTS tick_schedules (
				id TEXT PRIMARY KEY,
				journey_id TEXT NOT NULL,
				cron_expression TEXT NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				active BOOLEAN NOT NULL DEFAULT TRUE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_tick_schedules_journey
				ON tick_schedules (journey_id);
			CREATE INDEX IF NOT EXISTS idx_tick_schedules_due
				ON tick_schedules (next_due_at) WHERE active;
		`,
	}
}
