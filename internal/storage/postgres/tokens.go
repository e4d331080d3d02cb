package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/realtime"
)

// ErrInvalidToken is returned when a write violates a column constraint.
var ErrInvalidToken = errors.New("token violates table constraints")

const tokenColumns = `id, name, x, y, size, type, color, hp, max_hp, ac, speed,
	remaining_movement, initiative, status_effects, avatar_url, character_sheet_id`

// TokenRepository stores tokens in the tokens table. Every write is stamped
// with the repository's origin so the NOTIFY trigger can report it.
type TokenRepository struct {
	db     *pgxpool.Pool
	origin string
}

// NewTokenRepository creates a TokenRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTokenRepository(db *pgxpool.Pool, origin string) *TokenRepository {
	return &TokenRepository{db: db, origin: origin}
}

// List returns every token in creation order.
func (r *TokenRepository) List(ctx context.Context) ([]token.Token, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tokenColumns+` FROM tokens ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	var out []token.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	return out, nil
}

// Get returns the token with id.
//
// Postcondition: Returns realtime.ErrTokenNotFound if no row matches.
func (r *TokenRepository) Get(ctx context.Context, id string) (token.Token, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.Token{}, realtime.ErrTokenNotFound
	}
	if err != nil {
		return token.Token{}, fmt.Errorf("getting token %s: %w", id, err)
	}
	return t, nil
}

// Insert stores a new token, assigning a UUID when t has no id.
//
// Postcondition: Returns the stored token with ID set.
func (r *TokenRepository) Insert(ctx context.Context, t token.Token) (token.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO tokens
			(id, name, x, y, size, type, color, hp, max_hp, ac, speed,
			 remaining_movement, initiative, status_effects, avatar_url,
			 character_sheet_id, origin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING `+tokenColumns,
		tokenArgs(t, r.origin)...,
	)
	out, err := scanToken(row)
	if err != nil {
		if isCheckViolation(err) {
			return token.Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return token.Token{}, fmt.Errorf("inserting token: %w", err)
	}
	return out, nil
}

// Upsert inserts t or overwrites the row with the same id.
//
// Precondition: t.ID must be non-empty.
func (r *TokenRepository) Upsert(ctx context.Context, t token.Token) error {
	if t.ID == "" {
		return token.ErrNoID
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO tokens
			(id, name, x, y, size, type, color, hp, max_hp, ac, speed,
			 remaining_movement, initiative, status_effects, avatar_url,
			 character_sheet_id, origin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			size = EXCLUDED.size,
			type = EXCLUDED.type,
			color = EXCLUDED.color,
			hp = EXCLUDED.hp,
			max_hp = EXCLUDED.max_hp,
			ac = EXCLUDED.ac,
			speed = EXCLUDED.speed,
			remaining_movement = EXCLUDED.remaining_movement,
			initiative = EXCLUDED.initiative,
			status_effects = EXCLUDED.status_effects,
			avatar_url = EXCLUDED.avatar_url,
			character_sheet_id = EXCLUDED.character_sheet_id,
			origin = EXCLUDED.origin,
			updated_at = NOW()`,
		tokenArgs(t, r.origin)...,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return fmt.Errorf("upserting token %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the token with id. Deleting an unknown id is not an error.
func (r *TokenRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting token %s: %w", id, err)
	}
	return nil
}

func tokenArgs(t token.Token, origin string) []any {
	status := make([]string, len(t.Status))
	for i, s := range t.Status {
		status[i] = string(s)
	}
	return []any{
		t.ID, t.Name, t.X, t.Y, t.Size, string(t.Kind), t.Color,
		t.HP, t.MaxHP, t.AC, t.Speed, t.RemainingMovement, t.Initiative,
		status, t.AvatarURL, t.CharacterID, origin,
	}
}

func scanToken(row pgx.Row) (token.Token, error) {
	var (
		t      token.Token
		kind   string
		status []string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.X, &t.Y, &t.Size, &kind, &t.Color,
		&t.HP, &t.MaxHP, &t.AC, &t.Speed, &t.RemainingMovement, &t.Initiative,
		&status, &t.AvatarURL, &t.CharacterID,
	)
	if err != nil {
		return token.Token{}, err
	}
	t.Kind = token.Kind(kind)
	effects := make([]token.StatusEffect, len(status))
	for i, s := range status {
		effects[i] = token.StatusEffect(s)
	}
	t.Status = token.NewStatusSet(effects...)
	return t, nil
}
