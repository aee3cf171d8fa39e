package listingdb

// Schema is the DDL this repository expects. Migration tooling is out
// of scope (spec.md §1); it is reproduced here so a fresh database can
// be bootstrapped by any migration runner the operator chooses.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	id                    UUID PRIMARY KEY,
	seller_id             TEXT NOT NULL,
	seller_display_name   TEXT NOT NULL,
	seller_username       TEXT NOT NULL,
	seller_verified       BOOLEAN NOT NULL DEFAULT FALSE,

	title                 TEXT NOT NULL,
	description           TEXT NOT NULL,
	categories            TEXT[] NOT NULL,
	license               TEXT NOT NULL,
	thumbnail_path        TEXT NOT NULL,

	price_minor_units     BIGINT NOT NULL,
	currency              TEXT NOT NULL,
	is_free               BOOLEAN NOT NULL DEFAULT FALSE,
	sale_discount_percent INT,
	sale_price_minor      BIGINT,
	sale_ends_at          TIMESTAMPTZ,

	is_physical           BOOLEAN NOT NULL DEFAULT FALSE,
	dimensions            JSONB,
	total_weight_grams    DOUBLE PRECISION,
	nozzle_temp_c         DOUBLE PRECISION,
	recommended_materials TEXT[],
	is_multicolor         BOOLEAN NOT NULL DEFAULT FALSE,
	requires_assembly     BOOLEAN NOT NULL DEFAULT FALSE,
	hardware_items        TEXT[],

	allows_remixing       BOOLEAN NOT NULL DEFAULT FALSE,
	parent_listing_id     UUID,

	is_nsfw               BOOLEAN NOT NULL DEFAULT FALSE,
	is_ai_generated       BOOLEAN NOT NULL DEFAULT FALSE,
	ai_model_name         TEXT NOT NULL DEFAULT '',

	likes                 BIGINT NOT NULL DEFAULT 0,
	downloads             BIGINT NOT NULL DEFAULT 0,
	comments              BIGINT NOT NULL DEFAULT 0,

	state                 TEXT NOT NULL,

	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL,
	last_indexed_at       TIMESTAMPTZ,
	deleted_at            TIMESTAMPTZ,

	trace_id              TEXT NOT NULL,
	authorized_party      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings (seller_id, created_at DESC);

CREATE TABLE IF NOT EXISTS listing_files (
	id             UUID PRIMARY KEY,
	listing_id     UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	path           TEXT NOT NULL,
	kind           TEXT NOT NULL,
	size_bytes     BIGINT NOT NULL,
	metadata       JSONB,
	state          TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	is_generated   BOOLEAN NOT NULL DEFAULT FALSE,
	source_file_id UUID,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listing_files_listing ON listing_files (listing_id);
`
