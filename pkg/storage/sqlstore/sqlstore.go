// Package sqlstore implements round and model history on top of sqlx. The
// same queries serve every dialect; placeholders are rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/jmoiron/sqlx"
)

var (
	ErrDBQuery = errors.New("database query error")
	ErrCreate  = errors.New("create error")
)

type Repository struct {
	db *sqlx.DB
}

type modelRow struct {
	Round      int64     `db:"round_no"`
	Parameters []byte    `db:"parameters"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, m fl.RoundMetrics) error {
	if m.RunID == "" {
		return pkgerrors.ErrInvalidID
	}

	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	res, err := r.db.ExecContext(
		ctx,
		r.db.Rebind(`INSERT INTO rounds (run_id, round_no, status, excluded, document, finished_at)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (run_id, round_no) DO NOTHING`),
		m.RunID,
		int64(m.Round),
		string(m.Status),
		m.Excluded,
		string(doc),
		m.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return expectInserted(res)
}

func (r *Repository) Get(ctx context.Context, runID string, round uint64) (fl.RoundMetrics, error) {
	var doc []byte
	if err := r.db.GetContext(
		ctx,
		&doc,
		r.db.Rebind(`SELECT document FROM rounds WHERE run_id = ? AND round_no = ?`),
		runID,
		int64(round),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.RoundMetrics{}, pkgerrors.ErrNotFound
		}

		return fl.RoundMetrics{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return decodeRound(doc)
}

func (r *Repository) List(ctx context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM rounds WHERE run_id = ?`), runID); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var docs [][]byte
	if err := r.db.SelectContext(
		ctx,
		&docs,
		r.db.Rebind(`SELECT document FROM rounds WHERE run_id = ? ORDER BY round_no ASC LIMIT ? OFFSET ?`),
		runID,
		clamp(limit),
		clamp(offset),
	); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	rounds := make([]fl.RoundMetrics, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeRound(doc)
		if err != nil {
			return nil, 0, err
		}
		rounds = append(rounds, m)
	}

	return rounds, total, nil
}

func (r *Repository) SaveModel(ctx context.Context, runID string, state fl.GlobalModelState) error {
	if runID == "" {
		return pkgerrors.ErrInvalidID
	}

	data, err := fl.EncodeParameters(state.Parameters)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(
		ctx,
		r.db.Rebind(`INSERT INTO models (run_id, round_no, parameters, updated_at)
			VALUES (?, ?, ?, ?) ON CONFLICT (run_id, round_no) DO NOTHING`),
		runID,
		int64(state.Round),
		data,
		state.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return expectInserted(res)
}

func (r *Repository) LoadModel(ctx context.Context, runID string, round uint64) (fl.GlobalModelState, error) {
	return r.model(
		ctx,
		`SELECT round_no, parameters, updated_at FROM models WHERE run_id = ? AND round_no = ?`,
		runID,
		int64(round),
	)
}

func (r *Repository) LatestModel(ctx context.Context, runID string) (fl.GlobalModelState, error) {
	return r.model(
		ctx,
		`SELECT round_no, parameters, updated_at FROM models WHERE run_id = ? ORDER BY round_no DESC LIMIT 1`,
		runID,
	)
}

func (r *Repository) model(ctx context.Context, query string, args ...any) (fl.GlobalModelState, error) {
	var row modelRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.GlobalModelState{}, pkgerrors.ErrNotFound
		}

		return fl.GlobalModelState{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	params, err := fl.DecodeParameters(row.Parameters)
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return fl.GlobalModelState{
		Round:      uint64(row.Round),
		Parameters: params,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func expectInserted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}
	if n == 0 {
		return pkgerrors.ErrEntityExists
	}

	return nil
}

func decodeRound(doc []byte) (fl.RoundMetrics, error) {
	var m fl.RoundMetrics
	if err := json.Unmarshal(doc, &m); err != nil {
		return fl.RoundMetrics{}, fmt.Errorf("failed to unmarshal round: %w", err)
	}

	return m, nil
}

// clamp keeps paging arguments inside the signed range drivers accept.
func clamp(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}

	return int64(v)
}
