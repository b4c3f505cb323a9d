package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/kresearch/pkg/database"
	"github.com/mikeboe/kresearch/pkg/research"
)

const sessionColumns = `id, query, created_at, updated_at, status, agent_state, sufficiency_score,
	logs, global_context, final_report, research_mode, elapsed_time, config, error`

// PostgresStore keeps sessions in the research_sessions table.
type PostgresStore struct {
	DB *database.PostgresDB
}

func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Save(ctx context.Context, item HistoryItem) error {
	logs, err := json.Marshal(item.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}
	gc, err := json.Marshal(item.GlobalContext)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	cfg, err := json.Marshal(item.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO research_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			status = EXCLUDED.status,
			agent_state = EXCLUDED.agent_state,
			sufficiency_score = EXCLUDED.sufficiency_score,
			logs = EXCLUDED.logs,
			global_context = EXCLUDED.global_context,
			final_report = EXCLUDED.final_report,
			elapsed_time = EXCLUDED.elapsed_time,
			config = EXCLUDED.config,
			error = EXCLUDED.error
	`
	_, err = s.DB.Pool.Exec(ctx, query,
		item.ID, item.Query, item.CreatedAt, item.UpdatedAt, string(item.Status), string(item.AgentState),
		item.SufficiencyScore, logs, gc, item.FinalReport, string(item.ResearchMode), item.ElapsedTime, cfg, item.Error)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (HistoryItem, error) {
	row := s.DB.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM research_sessions WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return HistoryItem{}, ErrNotFound
	}
	if err != nil {
		return HistoryItem{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]HistoryItem, error) {
	rows, err := s.DB.Pool.Query(ctx, `SELECT `+sessionColumns+` FROM research_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	items := []HistoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM research_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (HistoryItem, error) {
	var (
		item                HistoryItem
		status, state, mode string
		logs, gc, cfg       []byte
	)
	err := row.Scan(&item.ID, &item.Query, &item.CreatedAt, &item.UpdatedAt, &status, &state,
		&item.SufficiencyScore, &logs, &gc, &item.FinalReport, &mode, &item.ElapsedTime, &cfg, &item.Error)
	if err != nil {
		return HistoryItem{}, err
	}

	item.Status = research.Status(status)
	item.AgentState = research.AgentState(state)
	item.ResearchMode = research.Mode(mode)

	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &item.Logs); err != nil {
			return HistoryItem{}, fmt.Errorf("failed to decode logs: %w", err)
		}
	}
	if len(gc) > 0 && string(gc) != "null" {
		item.GlobalContext = &research.GlobalContext{}
		if err := json.Unmarshal(gc, item.GlobalContext); err != nil {
			return HistoryItem{}, fmt.Errorf("failed to decode context: %w", err)
		}
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &item.Config); err != nil {
			return HistoryItem{}, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return item, nil
}
