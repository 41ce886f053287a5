package export

import (
	"context"
	"fmt"

	"siteeditor/api/internal/store"
)

type dataStore interface {
	GetSubject(ctx context.Context, subjectID string) (store.Subject, error)
	GetSnapshot(ctx context.Context, subjectID string, version int64) (store.VersionSnapshot, error)
}

// Renderer turns a full HTML page into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Service prints archived versions for operators.
type Service struct {
	store    dataStore
	renderer Renderer
}

func NewService(store dataStore, renderer Renderer) *Service {
	return &Service{store: store, renderer: renderer}
}

// VersionPDF renders one archived version of a subject's page.
func (s *Service) VersionPDF(ctx context.Context, subjectID string, version int64) (Result, error) {
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}
	snap, err := s.store.GetSnapshot(ctx, subjectID, version)
	if err != nil {
		return Result{}, err
	}

	html, err := RenderPageHTML(Page{
		SubjectName: subject.Name,
		Version:     snap.Version,
		Source:      snap.Source,
		CreatedAt:   snap.CreatedAt,
		Content:     snap.Content,
	})
	if err != nil {
		return Result{}, fmt.Errorf("render page: %w", err)
	}

	data, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Data:     data,
		Filename: fmt.Sprintf("%s-v%d.pdf", sanitizeFilename(subject.Name), snap.Version),
		MimeType: "application/pdf",
	}, nil
}
