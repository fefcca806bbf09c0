package repository

// Schema definitions for the Mulewatch database.
// Compatible with both SQLite and PostgreSQL.

// schemaBatches holds uploaded batches as raw JSON.
// Analyses are recomputed from the records and never stored.
const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    filename TEXT NOT NULL DEFAULT '',
    transaction_count INTEGER NOT NULL,
    records TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_tenant ON batches(tenant_id);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBatches,
	}
}
