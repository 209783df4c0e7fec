package vote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/mochivi/dataset-curator/internal/common"
)

type dialect struct {
	driver string
	schema []string
	upsert string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS votes (
	id TEXT PRIMARY KEY,
	image_hash TEXT NOT NULL,
	user_id TEXT NOT NULL,
	label TEXT NOT NULL,
	changed_at INTEGER NOT NULL,
	UNIQUE (image_hash, user_id)
)`,
			`CREATE INDEX IF NOT EXISTS votes_user_id ON votes (user_id)`,
		},
		upsert: `INSERT INTO votes (id, image_hash, user_id, label, changed_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (image_hash, user_id) DO UPDATE SET label = excluded.label, changed_at = excluded.changed_at`,
	},
	"mysql": {
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS votes (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	image_hash VARCHAR(128) NOT NULL,
	user_id VARCHAR(128) NOT NULL,
	label VARCHAR(32) NOT NULL,
	changed_at BIGINT NOT NULL,
	UNIQUE KEY votes_image_user (image_hash, user_id),
	KEY votes_user_id (user_id)
)`,
		},
		upsert: `INSERT INTO votes (id, image_hash, user_id, label, changed_at) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE label = VALUES(label), changed_at = VALUES(changed_at)`,
	},
}

// SQLStore is the database/sql vote store
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLStore opens the database for driver ("sqlite" or "mysql") and creates the schema.
// For sqlite, dsn is a file path, parent directories are created.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, driver)
	}

	if driver == "sqlite" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create vote db directory: %w", err)
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open vote db: %w", err)
	}
	if driver == "sqlite" {
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY under concurrent votes
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping vote db: %w", err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vote db: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Upsert(ctx context.Context, vote common.Vote) (common.Vote, error) {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert,
		vote.ID, vote.ImageHash, vote.UserID, string(vote.Label), vote.ChangedAt.UnixMilli())
	if err != nil {
		return common.Vote{}, fmt.Errorf("upsert vote: %w", err)
	}
	return s.Get(ctx, vote.ImageHash, vote.UserID)
}

func (s *SQLStore) Get(ctx context.Context, imageHash, userID string) (common.Vote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, image_hash, user_id, label, changed_at FROM votes WHERE image_hash = ? AND user_id = ?`,
		imageHash, userID)
	return scanVote(row)
}

func (s *SQLStore) Delete(ctx context.Context, voteID string) (common.Vote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.Vote{}, fmt.Errorf("begin delete vote: %w", err)
	}
	defer tx.Rollback()

	vote, err := scanVote(tx.QueryRowContext(ctx,
		`SELECT id, image_hash, user_id, label, changed_at FROM votes WHERE id = ?`, voteID))
	if err != nil {
		return common.Vote{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, voteID); err != nil {
		return common.Vote{}, fmt.Errorf("delete vote: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return common.Vote{}, fmt.Errorf("commit delete vote: %w", err)
	}
	return vote, nil
}

func (s *SQLStore) DeleteByUser(ctx context.Context, userID, imageHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE image_hash = ? AND user_id = ?`, imageHash, userID)
	if err != nil {
		return fmt.Errorf("delete user vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user vote: %w", err)
	}
	if n == 0 {
		return ErrVoteNotFound
	}
	return nil
}

func (s *SQLStore) TopLabels(ctx context.Context, imageHash string, labels []common.Label, n int) ([]common.LabelCount, error) {
	if len(labels) == 0 || n <= 0 {
		return nil, nil
	}

	args := make([]any, 0, len(labels)+2)
	args = append(args, imageHash)
	for _, label := range labels {
		args = append(args, string(label))
	}
	args = append(args, n)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(labels)), ", ")
	query := fmt.Sprintf(`SELECT label, COUNT(*) AS votes FROM votes
WHERE image_hash = ? AND label IN (%s)
GROUP BY label ORDER BY votes DESC, label ASC LIMIT ?`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	var counts []common.LabelCount
	for rows.Next() {
		var (
			label string
			count int
		)
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("scan vote count: %w", err)
		}
		counts = append(counts, common.LabelCount{Label: common.Label(label), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	return counts, nil
}

func scanVote(row *sql.Row) (common.Vote, error) {
	var (
		vote      common.Vote
		label     string
		changedAt int64
	)
	err := row.Scan(&vote.ID, &vote.ImageHash, &vote.UserID, &label, &changedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Vote{}, ErrVoteNotFound
	}
	if err != nil {
		return common.Vote{}, fmt.Errorf("scan vote: %w", err)
	}
	vote.Label = common.Label(label)
	vote.ChangedAt = time.UnixMilli(changedAt).UTC()
	return vote, nil
}
