package audit

import (
	"context"
	"database/sql"

	"carecall-rtc/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_identity, room_name, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	var meta any
	if e.Metadata != "" {
		meta = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q, e.ID, string(e.Type), e.ActorIdentity, e.RoomName, e.Message, meta, e.CreatedAt)
	if utils.IsUniqueViolation(err) {
		// retried append of the same event
		return nil
	}
	return err
}
