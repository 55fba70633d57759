package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropbot/backend/internal/domain"
)

// AdminLogRepository handles the append-only admin/system audit trail.
type AdminLogRepository struct {
	pool *pgxpool.Pool
}

// NewAdminLogRepository creates a new AdminLogRepository.
func NewAdminLogRepository(pool *pgxpool.Pool) *AdminLogRepository {
	return &AdminLogRepository{pool: pool}
}

// Insert records one audit entry. Accepts an optional tx so a log entry
// can be enlisted in the same commit as the mutation it describes (e.g. a
// reservation-clamp correction written by the reservation engine).
func (r *AdminLogRepository) Insert(ctx context.Context, tx pgx.Tx, entry domain.AdminLog) error {
	q := queryable(r.pool, tx)
	_, err := q.Exec(ctx, `
		INSERT INTO admin_logs (actor_id, kind, detail, created_at)
		VALUES ($1, $2, $3, NOW())`, entry.ActorID, entry.Kind, entry.Detail)
	return err
}

// ListRecent returns the most recent limit audit entries, newest first, for
// the admin dashboard feed.
func (r *AdminLogRepository) ListRecent(ctx context.Context, limit int) ([]domain.AdminLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, kind, detail, created_at FROM admin_logs
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AdminLog
	for rows.Next() {
		var entry domain.AdminLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Kind, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
