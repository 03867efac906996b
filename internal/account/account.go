package account

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/lexclaim/internal/apiclient"
)

// Document statuses as reported by the backend.
const (
	StatusCompleted  = "completed"
	StatusDraft      = "draft"
	StatusProcessing = "processing"
)

// DocumentSummary is one row of the account document list.
type DocumentSummary = apiclient.DocumentSummary

type API interface {
	Profile(ctx context.Context) (apiclient.Profile, error)
	UpdateProfile(ctx context.Context, update apiclient.ProfileUpdate) (apiclient.Profile, error)
	Documents(ctx context.Context) ([]apiclient.DocumentSummary, error)
}

type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Drafts     int `json:"drafts"`
	InProgress int `json:"in_progress"`
}

// Overview is everything the account page shows.
type Overview struct {
	Profile   apiclient.Profile           `json:"profile"`
	Documents []apiclient.DocumentSummary `json:"documents"`
	Stats     Stats                       `json:"stats"`
}

type Service struct {
	api API
}

func NewService(api API) *Service {
	return &Service{api: api}
}

func (s *Service) Profile(ctx context.Context) (apiclient.Profile, error) {
	p, err := s.api.Profile(ctx)
	if err != nil {
		return apiclient.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, update apiclient.ProfileUpdate) (apiclient.Profile, error) {
	update.FirstName = trimmed(update.FirstName)
	update.LastName = trimmed(update.LastName)
	update.Phone = trimmed(update.Phone)
	p, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return apiclient.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

// Documents returns the user's documents, newest first.
func (s *Service) Documents(ctx context.Context) ([]apiclient.DocumentSummary, error) {
	docs, err := s.api.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	p, err := s.Profile(ctx)
	if err != nil {
		return Overview{}, err
	}
	docs, err := s.Documents(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Profile: p, Documents: docs, Stats: Summarize(docs)}, nil
}

func Summarize(docs []apiclient.DocumentSummary) Stats {
	st := Stats{Total: len(docs)}
	for _, d := range docs {
		switch d.Status {
		case StatusCompleted:
			st.Completed++
		case StatusDraft:
			st.Drafts++
		case StatusProcessing:
			st.InProgress++
		}
	}
	return st
}

// DisplayName prefers the full name and falls back to the email.
func DisplayName(p apiclient.Profile) string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name != "" {
		return name
	}
	return p.Email
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}
