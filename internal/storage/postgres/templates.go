package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// TemplateRepository stores curated identity templates in PostgreSQL so a
// fresh process can rebuild its in-memory store from the database.
type TemplateRepository struct {
	pool *Pool
}

// NewTemplateRepository creates a PostgreSQL-backed template repository.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// ReplaceTemplates replaces all stored templates for a label in one
// transaction.
func (r *TemplateRepository) ReplaceTemplates(ctx context.Context, label string, vectors [][]float32) error {
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM templates WHERE face_label = $1", label); err != nil {
		return fmt.Errorf("delete old templates: %w", err)
	}

	query := `
		INSERT INTO templates (face_label, template_index, embedding, dim)
		VALUES ($1, $2, $3, $4)
	`
	for i, v := range vectors {
		vec := pgvector.NewVector(v)
		if _, err := tx.ExecContext(ctx, query, label, i, vec, len(v)); err != nil {
			return fmt.Errorf("insert template %d for %s: %w", i, label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template replace: %w", err)
	}
	return nil
}

// LoadAll returns the full label → templates mapping in template order.
func (r *TemplateRepository) LoadAll(ctx context.Context) (map[string][][]float32, error) {
	query := `
		SELECT face_label, embedding
		FROM templates
		ORDER BY face_label, template_index
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	templates := make(map[string][][]float32)
	for rows.Next() {
		var label string
		var vec pgvector.Vector
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates[label] = append(templates[label], vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}
