package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(50) NOT NULL,
				retry_policy JSONB,
				variables JSONB,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_organization ON workflows(organization_id);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				uid VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				executor_type VARCHAR(255) NOT NULL,
				configuration JSONB DEFAULT '{}',
				depends_on JSONB DEFAULT '[]',
				retry_policy JSONB,
				timeout_seconds INT NOT NULL DEFAULT 0,
				compensation JSONB,
				enabled BOOLEAN NOT NULL DEFAULT true,
				position INT NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);

			CREATE TABLE triggers (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				webhook_token VARCHAR(255),
				config JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_workflow_id ON triggers(workflow_id);
			CREATE INDEX idx_triggers_type_active ON triggers(type, active);
			CREATE UNIQUE INDEX idx_triggers_webhook_token ON triggers(webhook_token) WHERE webhook_token IS NOT NULL;

			CREATE TABLE fire_markers (
				trigger_id VARCHAR(255) NOT NULL,
				period VARCHAR(255) NOT NULL,
				fired_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (trigger_id, period)
			);

			CREATE TABLE schedules (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				cron_expression VARCHAR(255) NOT NULL,
				timezone VARCHAR(255),
				skip_weekends BOOLEAN NOT NULL DEFAULT false,
				skip_dates JSONB DEFAULT '[]',
				allow_overlap BOOLEAN NOT NULL DEFAULT false,
				next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_run_at TIMESTAMP WITH TIME ZONE,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_trigger_id ON schedules(trigger_id);
			CREATE INDEX idx_schedules_due ON schedules(active, next_run_at);

			CREATE TABLE missed_runs (
				id VARCHAR(255) PRIMARY KEY,
				schedule_id VARCHAR(255) NOT NULL,
				trigger_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				blocked_by_id VARCHAR(255)
			);

			CREATE INDEX idx_missed_runs_trigger_id ON missed_runs(trigger_id);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				input JSONB,
				variables JSONB,
				priority INT NOT NULL DEFAULT 0,
				retry_of_id VARCHAR(255),
				resume_from_step VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_trigger_status ON executions(trigger_id, status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE step_executions (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				retry_count INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				UNIQUE (execution_id, step_id)
			);

			CREATE INDEX idx_step_executions_execution_id ON step_executions(execution_id);

			CREATE TABLE execution_errors (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				message TEXT,
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				status VARCHAR(50) NOT NULL,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, step_id)
			);

			CREATE INDEX idx_execution_errors_status ON execution_errors(status, next_retry_at);

			CREATE TABLE circuit_breakers (
				workflow_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL,
				failure_count INT NOT NULL DEFAULT 0,
				success_count INT NOT NULL DEFAULT 0,
				failure_threshold INT NOT NULL,
				reset_timeout_ms BIGINT NOT NULL,
				opened_at TIMESTAMP WITH TIME ZONE,
				half_opened_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, step_id)
			);

			CREATE TABLE dead_letters (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				execution_error_id VARCHAR(255),
				workflow_id VARCHAR(255) NOT NULL,
				failed_step_id VARCHAR(255) NOT NULL,
				error_kind VARCHAR(50) NOT NULL,
				error_message TEXT,
				input JSONB,
				step_outputs JSONB,
				status VARCHAR(50) NOT NULL,
				resolution TEXT,
				manual_retries INT NOT NULL DEFAULT 0,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_dead_letters_workflow_status ON dead_letters(workflow_id, status);
			CREATE INDEX idx_dead_letters_expires_at ON dead_letters(expires_at);

			CREATE TABLE alert_rules (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				condition VARCHAR(50) NOT NULL,
				workflow_id VARCHAR(255),
				severity VARCHAR(50) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT true,
				consecutive_count INT NOT NULL DEFAULT 0,
				duration_limit_ms BIGINT NOT NULL DEFAULT 0,
				error_rate_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
				rate_window_ms BIGINT NOT NULL DEFAULT 0,
				min_samples INT NOT NULL DEFAULT 0,
				cooldown_ms BIGINT NOT NULL DEFAULT 0,
				channels JSONB DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_alert_rules_condition ON alert_rules(condition, enabled);

			CREATE TABLE alert_events (
				id VARCHAR(255) PRIMARY KEY,
				rule_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255),
				execution_id VARCHAR(255),
				condition VARCHAR(50) NOT NULL,
				severity VARCHAR(50) NOT NULL,
				message TEXT,
				context JSONB,
				status VARCHAR(50) NOT NULL,
				acknowledged_by VARCHAR(255),
				fired_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_alert_events_status ON alert_events(status, fired_at);

			CREATE TABLE webhook_logs (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id VARCHAR(255),
				token VARCHAR(255) NOT NULL,
				method VARCHAR(16) NOT NULL,
				headers JSONB,
				query JSONB,
				body BYTEA,
				source_ip VARCHAR(64) NOT NULL,
				accepted BOOLEAN NOT NULL DEFAULT false,
				execution_id VARCHAR(255),
				error_note TEXT,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_webhook_logs_trigger ON webhook_logs(trigger_id, received_at);
		`,
	}
}
