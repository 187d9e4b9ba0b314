package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows        []TimelineRow
	lastOffset  int
	lastLimit   int
	lastFilters TimelineFilters
}

func (s *stubTimelineRepo) Window(_ context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.lastFilters, s.lastOffset, s.lastLimit = f, offset, limit
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func (s *stubTimelineRepo) All(_ context.Context, f TimelineFilters) ([]TimelineRow, error) {
	s.lastFilters = f
	return s.rows, nil
}

func sampleRows() []TimelineRow {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	return []TimelineRow{
		{ID: 3, At: at, ActorID: 2, Action: "advance.transfer", Entity: "advance", EntityID: "5", Meta: []byte(`{"amount":"50"}`)},
		{ID: 2, At: at.Add(-time.Hour), ActorID: 2, Action: "budget_request.approve", Entity: "budget_request", EntityID: "4"},
		{ID: 1, At: at.Add(-2 * time.Hour), ActorID: 7, Action: "budget_request.create", Entity: "budget_request", EntityID: "4"},
	}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: sampleRows()}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Entity: "  advance "})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastLimit != 3 || repo.lastOffset != 0 {
		t.Fatalf("expected limit 3 offset 0, got %d/%d", repo.lastLimit, repo.lastOffset)
	}
	if repo.lastFilters.Entity != "advance" {
		t.Fatalf("expected trimmed entity, got %q", repo.lastFilters.Entity)
	}

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline page 2: %v", err)
	}
	if len(result.Rows) != 1 || result.Paging.HasNext || result.Paging.PrevPage != 1 {
		t.Fatalf("unexpected second page %+v", result.Paging)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != maxPageSize || repo.lastLimit != maxPageSize+1 {
		t.Fatalf("expected clamp to %d, got %d", maxPageSize, result.Paging.PageSize)
	}
	if result.Rows == nil {
		t.Fatalf("expected empty slice, got nil")
	}
}

func TestWriteCSV(t *testing.T) {
	body, err := WriteCSV(sampleRows()[:1])
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if lines[0] != "at,actor_id,action,entity,entity_id,meta" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2026-03-10T10:00:00Z,2,advance.transfer,advance,5,") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}
