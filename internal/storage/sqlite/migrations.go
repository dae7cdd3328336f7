package sqlite

// migration 单个数据库迁移
type migration struct {
	version int
	sql     string
}

// migrations 按版本顺序排列的迁移列表，版本号必须从 1 开始连续递增。
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mailboxes (
	id          TEXT PRIMARY KEY,
	chat_id     INTEGER NOT NULL,
	user_seq    INTEGER NOT NULL,
	address     TEXT NOT NULL,
	password    TEXT NOT NULL,
	auth_token  TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	UNIQUE(chat_id, user_seq),
	UNIQUE(chat_id, address)
);

CREATE TABLE IF NOT EXISTS active_mailboxes (
	chat_id     INTEGER PRIMARY KEY,
	mailbox_id  TEXT NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_messages (
	chat_id     INTEGER NOT NULL,
	message_id  TEXT NOT NULL,
	seen_at     DATETIME NOT NULL,
	PRIMARY KEY(chat_id, message_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS chat_sequences (
	chat_id   INTEGER PRIMARY KEY,
	last_seq  INTEGER NOT NULL
);

INSERT INTO chat_sequences (chat_id, last_seq)
	SELECT chat_id, MAX(user_seq) FROM mailboxes WHERE true GROUP BY chat_id
	ON CONFLICT(chat_id) DO NOTHING;

CREATE INDEX IF NOT EXISTS idx_active_mailbox ON active_mailboxes(mailbox_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
