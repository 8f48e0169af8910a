package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrInvalidRange = errors.New("audit: invalid date range")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns one page of entries. Size is normalised into
// [1, MaxPageSize], a negative page becomes 0 and the page is capped so its
// offset stays within a Postgres integer; a page past the end is empty.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return Page{}, ErrInvalidRange
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	if q.Page < 0 {
		q.Page = 0
	}
	if maxPage := math.MaxInt32 / q.Size; q.Page > maxPage {
		q.Page = maxPage
	}

	entries, total, err := s.repo.List(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("audit: list: %w", err)
	}

	return Page{
		Content:       entries,
		TotalElements: total,
		TotalPages:    (total + q.Size - 1) / q.Size,
		Size:          q.Size,
		Number:        q.Page,
	}, nil
}
