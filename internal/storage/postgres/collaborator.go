package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
)

// ErrUserExists is returned when creating a user whose username is taken.
var ErrUserExists = errors.New("user already exists")

// ErrAlreadyCollaborator is returned when a user is added to the same artwork twice.
var ErrAlreadyCollaborator = errors.New("user already collaborates on artwork")

// CollaboratorRepository resolves which artists belong to a canvas.
type CollaboratorRepository struct {
	db *pgxpool.Pool
}

// NewCollaboratorRepository creates a CollaboratorRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCollaboratorRepository(db *pgxpool.Pool) *CollaboratorRepository {
	return &CollaboratorRepository{db: db}
}

// CreateUser inserts an artist and returns the new id.
//
// Precondition: username must be non-empty.
// Postcondition: Returns ErrUserExists if the username is taken.
func (r *CollaboratorRepository) CreateUser(ctx context.Context, username, displayName string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, display_name) VALUES ($1, NULLIF($2, '')) RETURNING id`,
		username, displayName,
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

// Add links a user to an artwork.
//
// Postcondition: Returns ErrAlreadyCollaborator if the pair already exists.
func (r *CollaboratorRepository) Add(ctx context.Context, artworkID, userID int64, contribution int, owner bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO collaborators (artwork_id, user_id, contribution_percentage, is_owner)
		 VALUES ($1, $2, $3, $4)`,
		artworkID, userID, contribution, owner,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyCollaborator
		}
		return fmt.Errorf("inserting collaborator: %w", err)
	}
	return nil
}

// ListMembers returns the stored collaborators of an artwork, owners first.
//
// Postcondition: Returns an empty slice for an unknown artwork.
func (r *CollaboratorRepository) ListMembers(ctx context.Context, roomID int64) ([]protocol.Participant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.id, COALESCE(u.display_name, u.username), c.is_owner, c.contribution_percentage
		 FROM collaborators c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.artwork_id = $1
		 ORDER BY c.is_owner DESC, c.id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying collaborators of %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []protocol.Participant
	for rows.Next() {
		var p protocol.Participant
		var owner bool
		if err := rows.Scan(&p.ID, &p.DisplayName, &owner, &p.ContributionPercentage); err != nil {
			return nil, fmt.Errorf("scanning collaborator: %w", err)
		}
		p.Role = protocol.RoleCollaborator
		if owner {
			p.Role = protocol.RoleOwner
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collaborators: %w", err)
	}
	return out, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
