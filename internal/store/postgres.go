package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EternisAI/silo-hub/internal/models"
)

const (
	agentColumns   = "id, name, display_name, status, last_heartbeat, url, created_at, updated_at"
	messageColumns = "id, from_id, to_id, sender_type, content, type, reply_to, metadata, read, created_at"

	uniqueViolation = "23505"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		agent.ID, agent.Name, agent.DisplayName, string(agent.Status), agent.LastHeartbeat,
		agent.URL, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAgentNameTaken
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgentRow(row)
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name)
	return scanAgentRow(row)
}

func (s *PostgresStore) ListAgents(ctx context.Context, filter AgentFilter) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return collectAgents(rows)
}

func (s *PostgresStore) ListStaleAgents(ctx context.Context, cutoff time.Time) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE last_heartbeat < $1 AND status <> 'offline'
		 ORDER BY created_at, name`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale agents: %w", err)
	}
	return collectAgents(rows)
}

func (s *PostgresStore) DisplayNameExists(ctx context.Context, displayName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE display_name = $1)`, displayName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check display name: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET name = $2, display_name = $3, status = $4, last_heartbeat = $5, url = $6, updated_at = $7
		 WHERE id = $1`,
		agent.ID, agent.Name, agent.DisplayName, string(agent.Status), agent.LastHeartbeat,
		agent.URL, agent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAgentNameTaken
		}
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *PostgresStore) MarkStaleAgentOffline(ctx context.Context, id string, cutoff, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = 'offline', updated_at = $3
		 WHERE id = $1 AND last_heartbeat < $2 AND status <> 'offline'`,
		id, cutoff, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark agent offline: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.From, msg.To, string(msg.SenderType), msg.Content, string(msg.Type),
		msg.ReplyTo, metadataJSON, msg.Read, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.To != "" {
		conds = append(conds, "to_id = "+arg(filter.To))
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+arg(string(filter.Type)))
	}
	if filter.Since != nil {
		conds = append(conds, "created_at > "+arg(*filter.Since))
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Latest && filter.Limit > 0 {
		query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(filter.Limit)
		query = `SELECT ` + messageColumns + ` FROM (` + query + `) recent ORDER BY created_at, id`
	} else {
		query += " ORDER BY created_at, id"
		if filter.Limit > 0 {
			query += " LIMIT " + arg(filter.Limit)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) Conversation(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	// newest N, returned oldest first
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent ORDER BY created_at, id`, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return collectMessages(rows)
}

func scanAgentRow(row pgx.Row) (*models.Agent, error) {
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var (
		a      models.Agent
		status string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &status, &a.LastHeartbeat,
		&a.URL, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	return &a, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		m            models.Message
		senderType   string
		msgType      string
		metadataJSON []byte
	)
	if err := row.Scan(&m.ID, &m.From, &m.To, &senderType, &m.Content, &msgType,
		&m.ReplyTo, &metadataJSON, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.SenderType = models.SenderType(senderType)
	m.Type = models.MessageType(msgType)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for message %s: %w", m.ID, err)
		}
		if len(m.Metadata) == 0 {
			m.Metadata = nil
		}
	}
	return &m, nil
}

func collectAgents(rows pgx.Rows) ([]models.Agent, error) {
	defer rows.Close()

	var result []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return result, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	var result []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
