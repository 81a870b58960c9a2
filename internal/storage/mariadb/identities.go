package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/facesentry/facesentry/internal/storage"
)

// Directory resolves face labels against the criminals table of the case
// management database.
type Directory struct {
	pool *Pool
}

// NewDirectory creates a directory backed by the case database pool.
func NewDirectory(pool *Pool) *Directory {
	return &Directory{pool: pool}
}

// FindByLabel returns the identity enrolled under the face label, or
// storage.ErrIdentityNotFound when no row exists.
func (d *Directory) FindByLabel(ctx context.Context, label string) (*storage.Identity, error) {
	query := `
		SELECT id, name, age, gender, address, crime_type, face_label, photo
		FROM criminals
		WHERE face_label = ?
		LIMIT 1
	`
	var (
		ident   storage.Identity
		age     sql.NullInt64
		gender  sql.NullString
		address sql.NullString
		photo   sql.NullString
	)
	row := d.pool.db.QueryRowContext(ctx, query, label)
	err := row.Scan(&ident.ID, &ident.Name, &age, &gender, &address,
		&ident.CrimeType, &ident.FaceLabel, &photo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query identity for %s: %w", label, err)
	}

	ident.Age = int(age.Int64)
	ident.Gender = gender.String
	ident.Address = address.String
	ident.PhotoURL = photo.String
	return &ident, nil
}

// Count returns the number of enrolled identities.
func (d *Directory) Count(ctx context.Context) (int, error) {
	var n int
	row := d.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM criminals")
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}
