package pgstore

// schemaDDL creates the domain tables. Every statement is idempotent.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS scenes (
	id                UUID PRIMARY KEY,
	natural_key       TEXT        NOT NULL UNIQUE,
	state             TEXT        NOT NULL,
	meteorology_model TEXT        NOT NULL DEFAULT '',
	attempts          INTEGER     NOT NULL DEFAULT 0,
	failure_reason    TEXT        NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS receptors (
	id       UUID PRIMARY KEY,
	scene_id UUID             NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
	x        DOUBLE PRECISION NOT NULL,
	y        DOUBLE PRECISION NOT NULL,
	z        DOUBLE PRECISION NOT NULL,
	t        TIMESTAMPTZ      NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS receptors_scene_idx ON receptors (scene_id)`,
	`CREATE TABLE IF NOT EXISTS simulation_configs (
	id         UUID PRIMARY KEY,
	scene_id   UUID    NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
	version    INTEGER NOT NULL,
	parameters JSONB   NOT NULL,
	UNIQUE (scene_id, version)
)`,
	`CREATE TABLE IF NOT EXISTS meteorology_aggregates (
	id             UUID PRIMARY KEY,
	scene_id       UUID             NOT NULL UNIQUE REFERENCES scenes (id) ON DELETE CASCADE,
	xmin           DOUBLE PRECISION NOT NULL,
	xmax           DOUBLE PRECISION NOT NULL,
	ymin           DOUBLE PRECISION NOT NULL,
	ymax           DOUBLE PRECISION NOT NULL,
	temporal_start TIMESTAMPTZ      NOT NULL,
	temporal_end   TIMESTAMPTZ      NOT NULL,
	artifact_key   TEXT             NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS simulations (
	id            UUID PRIMARY KEY,
	scene_id      UUID        NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
	receptor_id   UUID        NOT NULL REFERENCES receptors (id),
	config_id     UUID        NOT NULL REFERENCES simulation_configs (id),
	aggregate_id  UUID        NOT NULL REFERENCES meteorology_aggregates (id),
	state         TEXT        NOT NULL,
	attempt_count INTEGER     NOT NULL DEFAULT 0,
	claimant      TEXT        NOT NULL DEFAULT '',
	claimed_at    TIMESTAMPTZ,
	event_id      BIGINT,
	artifact_refs JSONB       NOT NULL DEFAULT '{}',
	last_error    TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (receptor_id, config_id)
)`,
	`CREATE INDEX IF NOT EXISTS simulations_pending_idx ON simulations (created_at, id) WHERE state = 'pending'`,
	`CREATE INDEX IF NOT EXISTS simulations_active_idx ON simulations (claimed_at) WHERE state IN ('claimed', 'running')`,
	`CREATE INDEX IF NOT EXISTS simulations_scene_idx ON simulations (scene_id, state)`,
}
