// notes.go — стикеры сотрудников. Каждый видит и меняет только свои.
package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/repository"
)

const (
	maxNoteLength    = 2000
	defaultNoteColor = "yellow"
)

var noteColors = map[string]bool{
	"yellow": true,
	"green":  true,
	"blue":   true,
	"pink":   true,
	"orange": true,
}

// NoteService — CRUD заметок владельца.
type NoteService struct {
	repo   repository.NoteRepository
	logger *slog.Logger
}

// NewNoteService создаёт сервис заметок.
func NewNoteService(repo repository.NoteRepository, logger *slog.Logger) *NoteService {
	return &NoteService{
		repo:   repo,
		logger: logger.With(slog.String("component", "note_service")),
	}
}

// Create создаёт заметку. Пустой цвет — жёлтый.
func (s *NoteService) Create(ctx context.Context, actor Actor, text, color string) (*model.Note, error) {
	n := &model.Note{ID: uuid.New().String(), OwnerID: actor.UserID}
	if err := fillNote(n, text, color); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, mapCommonErr(err, "nota")
	}
	return n, nil
}

// ListMine возвращает заметки вызывающего.
func (s *NoteService) ListMine(ctx context.Context, actor Actor) ([]*model.Note, error) {
	items, err := s.repo.ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, mapCommonErr(err, "notas")
	}
	return items, nil
}

// Update меняет текст и цвет своей заметки.
func (s *NoteService) Update(ctx context.Context, actor Actor, id, text, color string) (*model.Note, error) {
	n := &model.Note{ID: id, OwnerID: actor.UserID}
	if err := fillNote(n, text, color); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, mapCommonErr(err, "nota")
	}
	return n, nil
}

// Delete удаляет свою заметку.
func (s *NoteService) Delete(ctx context.Context, actor Actor, id string) error {
	if err := s.repo.Delete(ctx, id, actor.UserID); err != nil {
		return mapCommonErr(err, "nota")
	}
	s.logger.Debug("Заметка удалена", slog.String("note_id", id), slog.String("owner", actor.UserID))
	return nil
}

func fillNote(n *model.Note, text, color string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return validationf("texto es obligatorio")
	}
	if utf8.RuneCountInString(text) > maxNoteLength {
		return validationf("texto supera %d caracteres", maxNoteLength)
	}
	color = strings.ToLower(strings.TrimSpace(color))
	if color == "" {
		color = defaultNoteColor
	}
	if !noteColors[color] {
		return validationf("color desconocido %q", color)
	}
	n.Text = text
	n.Color = color
	return nil
}
