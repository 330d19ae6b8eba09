package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Tyrowin/chatroom/internal/chat"
)

const createTranscript = `CREATE TABLE IF NOT EXISTS transcript (
    row_id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL,
    author_name TEXT NOT NULL,
    author_email TEXT,
    author_picture TEXT,
    text TEXT NOT NULL,
    sent_at DATETIME NOT NULL
);`

// Row is one appended transcript line.
type Row struct {
	MessageID   string
	AuthorName  string
	AuthorEmail string
	Text        string
	SentAt      time.Time
}

// SQLiteSink appends messages to a local SQLite table, one row per message,
// the way a spreadsheet logger would.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens the database file, creating the table on first use.
func OpenSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	if path == "" {
		path = "transcript.db"
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open transcript %q: %w", path, err)
	}
	if _, err = db.ExecContext(ctx, createTranscript); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create transcript table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, message chat.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript (message_id, author_name, author_email, author_picture, text, sent_at) VALUES (?,?,?,?,?,?);`,
		message.ID.String(), message.Author.Name, message.Author.Email, message.Author.Picture,
		message.Text, message.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append message %s: %w", message.ID, err)
	}
	return nil
}

// Rows returns every appended row in insertion order.
func (s *SQLiteSink) Rows(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, author_name, author_email, text, sent_at FROM transcript ORDER BY row_id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var email sql.NullString
		if err := rows.Scan(&r.MessageID, &r.AuthorName, &email, &r.Text, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		r.AuthorEmail = email.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
