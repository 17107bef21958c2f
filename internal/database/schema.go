package database

// Schema creates the tables the chat service reads and writes. Users are
// owned by the account service; the table here mirrors the columns chat
// depends on.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	image         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chats (
	id         UUID PRIMARY KEY,
	user1_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	user2_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (user1_id::text <= user2_id::text)
);

CREATE INDEX IF NOT EXISTS chats_pair_created_idx ON chats (user1_id, user2_id, created_at);
CREATE INDEX IF NOT EXISTS chats_user2_idx ON chats (user2_id);
`
