// Package store implements the Rule Store (spec §4.3) against SQLite
// (Community tier) and PostgreSQL (Pro tier) via database/sql.
package store

// Schema definitions for the SmartUnderwrite database. Compatible with both
// SQLite and PostgreSQL; both tables are named exactly as the persistence
// contract in spec §6 describes.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    description TEXT,
    priority    INTEGER NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    definition  TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active_priority ON rules(active, priority, id);
`

const schemaRulesPostgres = `
CREATE TABLE IF NOT EXISTS rules (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    priority    INTEGER NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    definition  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active_priority ON rules(active, priority, id);
`

const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS rule_versions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    original_rule_id  INTEGER NOT NULL,
    name              TEXT NOT NULL,
    description       TEXT,
    definition        TEXT NOT NULL,
    priority          INTEGER NOT NULL,
    active            INTEGER NOT NULL,
    version           INTEGER NOT NULL,
    created_at        TIMESTAMP NOT NULL,
    created_by        TEXT,
    change_reason     TEXT,
    UNIQUE(original_rule_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_original ON rule_versions(original_rule_id, version);
`

const schemaRuleVersionsPostgres = `
CREATE TABLE IF NOT EXISTS rule_versions (
    id                BIGSERIAL PRIMARY KEY,
    original_rule_id  BIGINT NOT NULL,
    name              TEXT NOT NULL,
    description       TEXT,
    definition        TEXT NOT NULL,
    priority          INTEGER NOT NULL,
    active            BOOLEAN NOT NULL,
    version           INTEGER NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    created_by        TEXT,
    change_reason     TEXT,
    UNIQUE(original_rule_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_original ON rule_versions(original_rule_id, version);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id               TEXT PRIMARY KEY,
    application_id   TEXT NOT NULL,
    affiliate_id     TEXT NOT NULL,
    status           TEXT NOT NULL,
    result           TEXT,
    overridden_by    TEXT,
    override_reason  TEXT,
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_affiliate ON decisions(affiliate_id, created_at);
`

const schemaDecisionsPostgres = `
CREATE TABLE IF NOT EXISTS decisions (
    id               TEXT PRIMARY KEY,
    application_id   TEXT NOT NULL,
    affiliate_id     TEXT NOT NULL,
    status           TEXT NOT NULL,
    result           TEXT,
    overridden_by    TEXT,
    override_reason  TEXT,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_affiliate ON decisions(affiliate_id, created_at);
`

// schemasFor returns the ordered schema statements for driver.
func schemasFor(driver string) []string {
	if driver == "postgres" {
		return []string{schemaRulesPostgres, schemaRuleVersionsPostgres, schemaDecisionsPostgres}
	}
	return []string{schemaRules, schemaRuleVersions, schemaDecisions}
}
