package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang-wa-dispatch/internal/domain"
)

func TestAppendAndRecent(t *testing.T) {
	lb, err := New(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer lb.Close()

	ctx := context.Background()
	for i, phone := range []string{"628111", "628222", "628333"} {
		rec := domain.OutcomeRecord{
			RunLabel:     "KOMANDO",
			RunRange:     "1 Aug 2026 s.d. 15 Aug 2026",
			Phone:        phone,
			DisplayName:  "recipient",
			MessageBody:  "hello",
			Status:       domain.StatusSent,
			GatewayReply: `{"status":true}`,
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := lb.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := lb.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d rows, want 2", len(recs))
	}
	// Newest first.
	if recs[0].Phone != "628333" || recs[1].Phone != "628222" {
		t.Fatalf("order = %s, %s", recs[0].Phone, recs[1].Phone)
	}
	if recs[0].Status != domain.StatusSent {
		t.Errorf("status = %q", recs[0].Status)
	}
	if recs[0].RunRange != "1 Aug 2026 s.d. 15 Aug 2026" {
		t.Errorf("run range = %q", recs[0].RunRange)
	}
}

func TestAppendDefaultsTimestamp(t *testing.T) {
	lb, err := New(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer lb.Close()

	ctx := context.Background()
	if err := lb.Append(ctx, domain.OutcomeRecord{
		RunLabel: "L", RunRange: "r", Phone: "628111",
		MessageBody: "m", Status: domain.StatusFailed,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := lb.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || recs[0].CreatedAt.IsZero() {
		t.Fatalf("recs = %+v", recs)
	}
}
