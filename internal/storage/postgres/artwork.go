package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage"
)

// Artwork is a row of the artworks table.
type Artwork struct {
	ID          int64
	Title       string
	Description string
	Status      string
	CanvasData  json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArtworkRepository reads and writes canvas snapshots.
type ArtworkRepository struct {
	db *pgxpool.Pool
}

// NewArtworkRepository creates an ArtworkRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewArtworkRepository(db *pgxpool.Pool) *ArtworkRepository {
	return &ArtworkRepository{db: db}
}

// Create inserts an artwork with no snapshot.
//
// Precondition: title must be non-empty.
// Postcondition: Returns the created Artwork with ID and timestamps set.
func (r *ArtworkRepository) Create(ctx context.Context, title, description string) (Artwork, error) {
	var a Artwork
	err := r.db.QueryRow(ctx,
		`INSERT INTO artworks (title, description)
		 VALUES ($1, $2)
		 RETURNING id, title, COALESCE(description, ''), status, created_at, updated_at`,
		title, description,
	).Scan(&a.ID, &a.Title, &a.Description, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Artwork{}, fmt.Errorf("inserting artwork: %w", err)
	}
	return a, nil
}

// Get returns the stored snapshot of an artwork.
//
// Postcondition: ok is false when the artwork does not exist or its
// canvas_data is NULL or JSON null.
func (r *ArtworkRepository) Get(ctx context.Context, roomID int64) (json.RawMessage, bool, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT canvas_data FROM artworks WHERE id = $1`,
		roomID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying artwork %d: %w", roomID, err)
	}
	if protocol.IsNull(raw) {
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

// Put replaces the snapshot of an existing artwork and bumps updated_at.
//
// Precondition: snapshot must be valid JSON.
// Postcondition: Returns storage.ErrArtworkNotFound when no artwork has id roomID.
func (r *ArtworkRepository) Put(ctx context.Context, roomID int64, snapshot json.RawMessage) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE artworks SET canvas_data = $1::jsonb, updated_at = NOW() WHERE id = $2`,
		string(snapshot), roomID,
	)
	if err != nil {
		return fmt.Errorf("updating artwork %d: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("artwork %d: %w", roomID, storage.ErrArtworkNotFound)
	}
	return nil
}
