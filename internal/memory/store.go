package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"virtualgo/internal/metrics"
	"virtualgo/internal/models"
	"virtualgo/internal/redis"

	"go.uber.org/zap"
)

// placeholderAgentID is written when a row must be created before the real
// (user, agent) pair is known; Stamp corrects it afterwards.
const placeholderAgentID = "default"

// Store persists conversation histories keyed by conversation id. The row's
// durable identity never changes across upserts: updates touch only the
// message blob and its denormalized last-message projection.
type Store struct {
	db     *sql.DB
	cache  *historyCache
	logger *zap.Logger
}

// NewStore builds a memory store. cacheClient may be nil to disable the
// read-through redis cache.
func NewStore(db *sql.DB, cacheClient *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		cache:  newHistoryCache(cacheClient, logger),
		logger: logger,
	}
}

// Load returns the history stored for the conversation. An unknown id yields
// an empty history, not an error. An undecodable blob is reported as a
// CorruptRecordError tagged with the id; the caller chooses whether to treat
// it as empty.
func (s *Store) Load(ctx context.Context, conversationID string) ([]models.Message, error) {
	if conversationID == "" {
		return nil, nil
	}

	if blob, ok := s.cache.load(ctx, conversationID); ok {
		msgs, err := models.DecodeMessages(blob)
		if err == nil {
			return msgs, nil
		}
		// A stale or mangled cache entry falls through to the database.
		s.cache.invalidate(ctx, conversationID)
	}

	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_memory WHERE conversation_id = ?`, conversationID,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	msgs, err := models.DecodeMessages(blob)
	if err != nil {
		metrics.CorruptRecords.Inc()
		s.logger.Error("stored history failed to decode",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, &CorruptRecordError{ConversationID: conversationID, Err: err}
	}
	s.cache.store(ctx, conversationID, blob)
	return msgs, nil
}

// Upsert replaces the history stored under conversationID, creating the row if
// absent. The identity hints are only consulted on insert and MAY be
// placeholders (empty hints fall back to the conversation id and the default
// agent, matching the generic save path); Stamp corrects them later. On
// update the row keeps its id, conversation_id, user_id and agent_id.
func (s *Store) Upsert(ctx context.Context, conversationID, userIDHint, agentIDHint string, msgs []models.Message) error {
	if conversationID == "" {
		return ErrInvalidIdentity
	}
	if len(msgs) == 0 {
		return nil
	}

	blob, err := models.EncodeMessages(msgs)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conversationID, err)
	}
	last := msgs[len(msgs)-1]
	lastRole := string(last.Role())
	lastContent := last.Text()
	now := time.Now().UTC()

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_memory WHERE conversation_id = ?`, conversationID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check conversation %s: %w", conversationID, err)
	}

	if count > 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE chat_memory SET last_role = ?, last_content = ?, messages = ?, updated_at = ? WHERE conversation_id = ?`,
			lastRole, lastContent, blob, now, conversationID,
		)
		if err != nil {
			return fmt.Errorf("update conversation %s: %w", conversationID, err)
		}
	} else {
		if userIDHint == "" {
			userIDHint = conversationID
		}
		if agentIDHint == "" {
			agentIDHint = placeholderAgentID
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chat_memory (conversation_id, user_id, agent_id, last_role, last_content, messages, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, userIDHint, agentIDHint, lastRole, lastContent, blob, now, now,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("insert conversation %s: %w", conversationID, ErrConflict)
			}
			return fmt.Errorf("insert conversation %s: %w", conversationID, err)
		}
	}

	s.cache.store(ctx, conversationID, blob)
	return nil
}

// Delete removes the conversation row. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_memory WHERE conversation_id = ?`, conversationID,
	); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	s.cache.invalidate(ctx, conversationID)
	return nil
}

// ListConversationIDs returns every stored conversation id, in no particular
// order.
func (s *Store) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id FROM chat_memory`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
