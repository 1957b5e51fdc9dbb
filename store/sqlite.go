package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket"
)

const chatVisible = `(is_broadcast = 0 OR target IN ('', 'chat', 'both') OR target IS NULL)`

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := &SQLiteStore{db: db, log: logs.L().Named("store")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		user_id INTEGER,
		username TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		is_broadcast INTEGER NOT NULL DEFAULT 0,
		target TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(status, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, "create schema")
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, msg *socket.ChatMessage) error {
	now := time.Now().UTC().Truncate(time.Millisecond)

	var userID any
	if msg.UserID != nil {
		userID = *msg.UserID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages
			(content, user_id, username, avatar, ip, priority, is_broadcast, target, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Content, userID, msg.Username, msg.Avatar, msg.IP,
		msg.Priority, msg.IsBroadcast, msg.Target, StatusVisible,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "last insert id")
	}

	msg.ID = uint(id)
	msg.Status = StatusVisible
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]socket.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, user_id, username, avatar, ip, priority, is_broadcast, target, status, created_at, updated_at
		FROM chat_messages
		WHERE status = 1 AND `+chatVisible+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent messages")
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) List(ctx context.Context, page, size int, includeAnnouncements bool) ([]socket.ChatMessage, int64, error) {
	page, size = normalizePage(page, size)

	where := `WHERE status = 1`
	if !includeAnnouncements {
		where += ` AND ` + chatVisible
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages `+where).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count messages")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, user_id, username, avatar, ip, priority, is_broadcast, target, status, created_at, updated_at
		FROM chat_messages `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, size, (page-1)*size)
	if err != nil {
		return nil, 0, errors.Wrap(err, "query messages")
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	if msgs == nil {
		msgs = []socket.ChatMessage{}
	}
	return msgs, total, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id uint) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET status = 0, updated_at = ? WHERE id = ? AND status = 1`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		s.log.Debug("delete matched no rows", zap.Uint("id", id))
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]socket.ChatMessage, error) {
	defer rows.Close()

	var msgs []socket.ChatMessage
	for rows.Next() {
		var (
			m                    socket.ChatMessage
			userID               sql.NullInt64
			createdAt, updatedAt int64
		)
		err := rows.Scan(
			&m.ID, &m.Content, &userID, &m.Username, &m.Avatar, &m.IP,
			&m.Priority, &m.IsBroadcast, &m.Target, &m.Status, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		if userID.Valid {
			uid := uint(userID.Int64)
			m.UserID = &uid
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate message rows")
	}
	return msgs, nil
}
