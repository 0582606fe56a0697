package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// mockNoteRepo — мок NoteRepository с хранением в памяти.
type mockNoteRepo struct {
	notes map[string]*model.Note
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{notes: map[string]*model.Note{}}
}

func (m *mockNoteRepo) Create(_ context.Context, n *model.Note) error {
	cp := *n
	m.notes[n.ID] = &cp
	return nil
}

func (m *mockNoteRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Note, error) {
	var out []*model.Note
	for _, n := range m.notes {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNoteRepo) Update(_ context.Context, n *model.Note) error {
	stored, ok := m.notes[n.ID]
	if !ok || stored.OwnerID != n.OwnerID {
		return repository.ErrNotFound
	}
	stored.Text, stored.Color = n.Text, n.Color
	return nil
}

func (m *mockNoteRepo) Delete(_ context.Context, id, ownerID string) error {
	stored, ok := m.notes[id]
	if !ok || stored.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(m.notes, id)
	return nil
}

// TestNoteService_OwnerScoped — заметки видны и изменяемы только владельцем.
func TestNoteService_OwnerScoped(t *testing.T) {
	repo := newMockNoteRepo()
	svc := NewNoteService(repo, slog.Default())
	ctx := context.Background()

	n, err := svc.Create(ctx, operador, "  llamar a Juan  ", "")
	if err != nil {
		t.Fatalf("Create ошибка: %v", err)
	}
	if n.Text != "llamar a Juan" || n.Color != "yellow" {
		t.Errorf("Note = %+v", n)
	}

	mine, _ := svc.ListMine(ctx, operador)
	others, _ := svc.ListMine(ctx, otherOp)
	if len(mine) != 1 || len(others) != 0 {
		t.Errorf("mine = %d, others = %d", len(mine), len(others))
	}

	if _, err := svc.Update(ctx, otherOp, n.ID, "x", "blue"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужая заметка: ошибка = %v, ожидался ErrNotFound", err)
	}
	if _, err := svc.Update(ctx, operador, n.ID, "hecho", "Green"); err != nil {
		t.Errorf("Update ошибка: %v", err)
	}
	if repo.notes[n.ID].Color != "green" {
		t.Errorf("Color = %q, хотели green", repo.notes[n.ID].Color)
	}

	if err := svc.Delete(ctx, otherOp, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужое удаление: ошибка = %v, ожидался ErrNotFound", err)
	}
	if err := svc.Delete(ctx, operador, n.ID); err != nil {
		t.Errorf("Delete ошибка: %v", err)
	}
}

// TestNoteService_Validation проверяет текст и цвет.
func TestNoteService_Validation(t *testing.T) {
	svc := NewNoteService(newMockNoteRepo(), slog.Default())
	tests := []struct {
		name  string
		text  string
		color string
	}{
		{"пустой текст", "   ", ""},
		{"слишком длинный", strings.Repeat("a", maxNoteLength+1), ""},
		{"неизвестный цвет", "hola", "violeta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), operador, tt.text, tt.color); !errors.Is(err, ErrValidation) {
				t.Errorf("ошибка = %v, ожидался ErrValidation", err)
			}
		})
	}
}
