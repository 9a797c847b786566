package store

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    severity TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL,
    affected_system TEXT,
    remediation_suggestion TEXT,
    resolved BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS health_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TIMESTAMP NOT NULL,
    verdict TEXT NOT NULL,
    critical_failures INTEGER NOT NULL,
    warnings INTEGER NOT NULL,
    summary TEXT
);

CREATE TABLE IF NOT EXISTS recovery_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id TEXT NOT NULL,
    category TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    success BOOLEAN NOT NULL,
    steps_run INTEGER NOT NULL,
    failed_step TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_health_reports_timestamp ON health_reports(timestamp);
CREATE INDEX IF NOT EXISTS idx_recovery_runs_started ON recovery_runs(started_at);
`
