package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"virtualgo/internal/metrics"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Directory maps a (user, agent) pair to its conversation id through the
// uniq_user_agent index on chat_memory. It resolves and mints identities but
// never touches the message blob; that stays behind the Store.
type Directory struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDirectory(db *sql.DB, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: db, logger: logger}
}

// Resolve returns the conversation id owned by the pair, or ErrNotFound. It is
// a pure read; rows still carrying placeholder identity are invisible here.
func (d *Directory) Resolve(ctx context.Context, userID, agentID string) (string, error) {
	if userID == "" || agentID == "" {
		return "", ErrInvalidIdentity
	}
	var conversationID string
	err := d.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM chat_memory WHERE user_id = ? AND agent_id = ?`,
		userID, agentID,
	).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve conversation for %s/%s: %w", userID, agentID, err)
	}
	return conversationID, nil
}

// ResolveOrCreate resolves the pair's conversation, minting a fresh id and
// inserting an empty row on a miss. Two concurrent first turns can both miss
// and race the insert; the uniqueness constraint rejects the loser, which
// re-resolves and reuses the winning id instead of erroring.
func (d *Directory) ResolveOrCreate(ctx context.Context, userID, agentID string) (string, error) {
	conversationID, err := d.Resolve(ctx, userID, agentID)
	if err == nil {
		return conversationID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	conversationID = uuid.NewString()
	now := time.Now().UTC()
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO chat_memory (conversation_id, user_id, agent_id, last_role, last_content, messages, created_at, updated_at)
		 VALUES (?, ?, ?, '', '', '[]', ?, ?)`,
		conversationID, userID, agentID, now, now,
	)
	if err == nil {
		return conversationID, nil
	}
	if !isDuplicateKey(err) {
		return "", fmt.Errorf("create conversation for %s/%s: %w", userID, agentID, err)
	}

	// Lost the race: another turn minted the row first.
	metrics.CreateConflicts.Inc()
	d.logger.Info("conversation create conflict, reusing winner",
		zap.String("user_id", userID), zap.String("agent_id", agentID))
	winner, rerr := d.Resolve(ctx, userID, agentID)
	if rerr != nil {
		if errors.Is(rerr, ErrNotFound) {
			return "", fmt.Errorf("create conversation for %s/%s: %w", userID, agentID, ErrConflict)
		}
		return "", rerr
	}
	return winner, nil
}

// Stamp writes the real (user, agent) identity onto a conversation row created
// under placeholder values. It is the second half of the two-phase write: the
// row lands first so the reply is never lost, the identity lands here. A
// failure leaves a readable row the directory cannot find, so it is counted
// and logged for alerting rather than retried.
func (d *Directory) Stamp(ctx context.Context, conversationID, userID, agentID string) error {
	if conversationID == "" || userID == "" || agentID == "" {
		return ErrInvalidIdentity
	}
	_, err := d.db.ExecContext(ctx,
		`UPDATE chat_memory SET user_id = ?, agent_id = ? WHERE conversation_id = ?`,
		userID, agentID, conversationID,
	)
	if err != nil {
		metrics.StampFailures.Inc()
		d.logger.Warn("identity stamp failed",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return fmt.Errorf("stamp conversation %s: %w", conversationID, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
