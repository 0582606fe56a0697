package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

// NoteRepository — заметки сотрудников. Все операции ограничены владельцем.
type NoteRepository interface {
	Create(ctx context.Context, n *model.Note) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error)
	// Update меняет текст и цвет; чужая или отсутствующая заметка → ErrNotFound.
	Update(ctx context.Context, n *model.Note) error
	Delete(ctx context.Context, id, ownerID string) error
}

type noteRepo struct {
	db DBTX
}

// NewNoteRepository создаёт репозиторий заметок.
func NewNoteRepository(db DBTX) NoteRepository {
	return &noteRepo{db: db}
}

func (r *noteRepo) Create(ctx context.Context, n *model.Note) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO notes (id, owner_id, text, color) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		n.ID, n.OwnerID, n.Text, n.Color,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания заметки: %w", err)
	}
	return nil
}

func (r *noteRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, text, color, created_at, updated_at
		FROM notes WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заметок: %w", err)
	}
	defer rows.Close()

	var result []*model.Note
	for rows.Next() {
		n := &model.Note{}
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Text, &n.Color, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования заметки: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *noteRepo) Update(ctx context.Context, n *model.Note) error {
	err := r.db.QueryRow(ctx,
		`UPDATE notes SET text = $3, color = $4, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at, updated_at`,
		n.ID, n.OwnerID, n.Text, n.Color,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления заметки: %w", err)
	}
	return nil
}

func (r *noteRepo) Delete(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notes WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления заметки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
