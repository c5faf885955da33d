package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carecall-rtc/internal/calls"
	"carecall-rtc/pkg/utils"

	"github.com/google/uuid"
)

// Postgres implements the session orchestration persistence on database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `u.id, u.identity, u.name, u.created_at, u.updated_at`

func scanUser(row *sql.Row) (User, bool, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Identity, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

func (p *Postgres) FindUserByDeviceToken(ctx context.Context, kind TokenKind, token string) (User, bool, error) {
	const q = `
SELECT ` + userColumns + `
FROM devices d
JOIN users u ON u.id = d.user_id
WHERE d.token_kind = $1 AND d.token = $2
LIMIT 1
`
	return scanUser(p.db.QueryRowContext(ctx, q, string(kind), token))
}

func (p *Postgres) FindUserByIdentity(ctx context.Context, identity string) (User, bool, error) {
	const q = `
SELECT ` + userColumns + `
FROM users u
WHERE u.identity = $1
`
	return scanUser(p.db.QueryRowContext(ctx, q, identity))
}

// UpsertUser creates the user or refreshes its display name. An empty name never overwrites.
func (p *Postgres) UpsertUser(ctx context.Context, identity, name string) (User, error) {
	const q = `
INSERT INTO users AS u (id, identity, name, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (identity) DO UPDATE
SET name = COALESCE(NULLIF(EXCLUDED.name, ''), u.name),
    updated_at = now()
RETURNING ` + userColumns + `
`
	u, _, err := scanUser(p.db.QueryRowContext(ctx, q, uuid.NewString(), identity, name))
	return u, err
}

// UpsertDevice binds a push token to a user. A token re-registered by another user moves to that user.
func (p *Postgres) UpsertDevice(ctx context.Context, d Device) error {
	const q = `
INSERT INTO devices (id, user_id, token_kind, token, platform, env, supports_callkit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (token_kind, token) DO UPDATE
SET user_id = EXCLUDED.user_id,
    platform = EXCLUDED.platform,
    env = EXCLUDED.env,
    supports_callkit = EXCLUDED.supports_callkit,
    updated_at = now()
`
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, q, d.ID, d.UserID, string(d.TokenKind), d.Token, d.Platform, d.Env, d.SupportsCallKit)
	return err
}

func (p *Postgres) UpsertRoomMember(ctx context.Context, m RoomMember) error {
	const q = `
INSERT INTO room_members (room_name, identity, role, joined_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (room_name, identity) DO UPDATE
SET role = EXCLUDED.role,
    joined_at = EXCLUDED.joined_at
`
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, q, m.RoomName, m.Identity, m.Role, m.JoinedAt)
	return err
}

const callColumns = `id, room_name, caller_identity, callee_identity, state, created_at, answered_at, ended_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (calls.Call, error) {
	var (
		c        calls.Call
		state    string
		answered sql.NullTime
		ended    sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.RoomName, &c.CallerIdentity, &c.CalleeIdentity, &state, &c.CreatedAt, &answered, &ended, &c.UpdatedAt); err != nil {
		return calls.Call{}, err
	}
	c.State = calls.State(state)
	if answered.Valid {
		t := answered.Time
		c.AnsweredAt = &t
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	return c, nil
}

// CreateCall inserts a ringing call for roomName. The first caller wins: if the room
// already has a call, that call is returned unchanged.
func (p *Postgres) CreateCall(ctx context.Context, roomName, caller, callee string) (calls.Call, error) {
	const q = `
INSERT INTO calls (id, room_name, caller_identity, callee_identity, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (room_name) DO NOTHING
RETURNING ` + callColumns + `
`
	c, err := scanCall(p.db.QueryRowContext(ctx, q, uuid.NewString(), roomName, caller, callee, string(calls.StateRinging)))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, err
	}
	existing, ok, err := p.GetCallByRoom(ctx, roomName)
	if err != nil {
		return calls.Call{}, err
	}
	if !ok {
		// deleted between the conflict and the read
		return calls.Call{}, ErrNotFound
	}
	return existing, nil
}

func (p *Postgres) GetCallByRoom(ctx context.Context, roomName string) (calls.Call, bool, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE room_name = $1`
	c, err := scanCall(p.db.QueryRowContext(ctx, q, roomName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, false, nil
		}
		return calls.Call{}, false, err
	}
	return c, true, nil
}

// TransitionCall moves a call to state `to` under a row lock. It reports changed=false,
// without error, when the move is not legal from the current state.
func (p *Postgres) TransitionCall(ctx context.Context, callID string, to calls.State, at time.Time) (calls.Call, bool, error) {
	var (
		out     calls.Call
		changed bool
	)
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		cur, err := scanCall(tx.QueryRowContext(ctx, sel, callID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !calls.CanTransition(cur.State, to) {
			out = cur
			return nil
		}

		const upd = `
UPDATE calls
SET state = $2,
    answered_at = CASE WHEN $2 = 'answered' THEN $3 ELSE answered_at END,
    ended_at = CASE WHEN $2 = 'ended' THEN $3 ELSE ended_at END,
    updated_at = now()
WHERE id = $1
RETURNING ` + callColumns + `
`
		out, err = scanCall(tx.QueryRowContext(ctx, upd, callID, string(to), at.UTC()))
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return calls.Call{}, false, err
	}
	return out, changed, nil
}

func (p *Postgres) HasSummary(ctx context.Context, callID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM call_summaries WHERE call_id = $1)`
	var ok bool
	if err := p.db.QueryRowContext(ctx, q, callID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// RecentCalls lists calls for ops tooling, newest first.
func (p *Postgres) RecentCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT ` + callColumns + ` FROM calls ORDER BY created_at DESC LIMIT $1`
	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
