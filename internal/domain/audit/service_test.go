package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeRepo struct {
	events    []*Event
	createErr error
}

func (f *fakeRepo) Create(ctx context.Context, e *Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.events = append(f.events, e)
	return nil
}

func TestService_Record_StampsTime(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, zerolog.Nop())

	e := &Event{UserID: "u-1", Action: "read", ResourceType: "medical_record"}
	svc.Record(context.Background(), e)

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(repo.events))
	}
	if repo.events[0].Recorded.IsZero() {
		t.Error("expected Recorded to be stamped")
	}
}

func TestService_Record_KeepsExplicitTime(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, zerolog.Nop())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := &Event{UserID: "u-1", Action: "read", Recorded: ts}
	svc.Record(context.Background(), e)

	if !repo.events[0].Recorded.Equal(ts) {
		t.Errorf("expected Recorded %v, got %v", ts, repo.events[0].Recorded)
	}
}

func TestService_Record_SwallowsRepoError(t *testing.T) {
	repo := &fakeRepo{createErr: errors.New("connection refused")}
	svc := NewService(repo, zerolog.Nop())

	// Must not panic or surface the error; audit failures never fail requests.
	svc.Record(context.Background(), &Event{UserID: "u-1", Action: "read"})

	if len(repo.events) != 0 {
		t.Fatal("expected no stored events on repo failure")
	}
}
