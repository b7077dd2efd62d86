package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang-wa-dispatch/internal/domain"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "recipients.csv")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeCSV(t, "phone,name,message\n08111,Alice,Hi Alice\n+628222,Bob,Hi Bob\n628333,Carol,\n")

	rows, err := New(p).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []domain.RecipientRow{
		{RawPhone: "08111", DisplayName: "Alice", MessageBody: "Hi Alice"},
		{RawPhone: "+628222", DisplayName: "Bob", MessageBody: "Hi Bob"},
		{RawPhone: "628333", DisplayName: "Carol", MessageBody: ""},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestLoadWithoutHeader(t *testing.T) {
	p := writeCSV(t, "08111,Alice,Hi\n")

	rows, err := New(p).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 || rows[0].RawPhone != "08111" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestLoadShortRows(t *testing.T) {
	p := writeCSV(t, "08111\n08222,Bob\n")

	rows, err := New(p).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0].MessageBody != "" || rows[1].DisplayName != "Bob" || rows[1].MessageBody != "" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.csv")).Load(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
