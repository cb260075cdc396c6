package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medtec-labs/caseship/internal/domain"
)

func testOp(t *testing.T, seq int64) domain.Operation {
	t.Helper()
	op, err := domain.NewCreateCase(domain.CasePayload{
		Clinic:     "Neuro",
		DeviceName: "Endoskop",
	})
	if err != nil {
		t.Fatalf("build operation: %v", err)
	}
	op.Seq = seq
	op.SubmittedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute)
	return op
}

func TestQueueFileLoadMissing(t *testing.T) {
	q := NewQueueFile(filepath.Join(t.TempDir(), "buffer_queue.json"))

	ops, err := q.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(ops) != 0 {
		t.Fatalf("Load() returned %d ops, want 0", len(ops))
	}
}

func TestQueueFileAppendPreservesOrder(t *testing.T) {
	q := NewQueueFile(filepath.Join(t.TempDir(), "buffer_queue.json"))
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		if err := q.Append(ctx, testOp(t, seq)); err != nil {
			t.Fatalf("Append(seq=%d): %v", seq, err)
		}
	}

	ops, err := q.Load(ctx)
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Load() returned %d ops, want 3", len(ops))
	}
	for i, op := range ops {
		if op.Seq != int64(i+1) {
			t.Errorf("ops[%d].Seq = %d, want %d", i, op.Seq, i+1)
		}
	}
}

func TestQueueFileRemove(t *testing.T) {
	q := NewQueueFile(filepath.Join(t.TempDir(), "buffer_queue.json"))
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		if err := q.Append(ctx, testOp(t, seq)); err != nil {
			t.Fatalf("Append(seq=%d): %v", seq, err)
		}
	}

	if err := q.Remove(ctx, 2); err != nil {
		t.Fatalf("Remove(2): %v", err)
	}
	// Removing an absent sequence number is not an error.
	if err := q.Remove(ctx, 99); err != nil {
		t.Fatalf("Remove(99): %v", err)
	}

	ops, err := q.Load(ctx)
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("Load() returned %d ops, want 2", len(ops))
	}
	if ops[0].Seq != 1 || ops[1].Seq != 3 {
		t.Fatalf("remaining seqs = %d,%d, want 1,3", ops[0].Seq, ops[1].Seq)
	}
}

func TestQueueFileCorruptQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buffer_queue.json")
	if err := os.WriteFile(path, []byte(`[{"seq": 1,`), 0o600); err != nil {
		t.Fatal(err)
	}

	q := NewQueueFile(path)
	ops, err := q.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(ops) != 0 {
		t.Fatalf("Load() returned %d ops, want 0", len(ops))
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expected quarantined queue at %s.bak: %v", path, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original queue file gone, got %v", err)
	}
}

func TestQueueFileCorruptQuarantineReplacesStaleBak(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buffer_queue.json")
	q := NewQueueFile(path)
	ctx := context.Background()

	// First corruption leaves a .bak behind.
	if err := os.WriteFile(path, []byte(`[{"seq": 1,`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Load(ctx); err != nil {
		t.Fatalf("first Load() = %v, want nil", err)
	}

	// A second corruption must still recover, not trip over the stale .bak.
	if err := os.WriteFile(path, []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	ops, err := q.Load(ctx)
	if err != nil {
		t.Fatalf("second Load() = %v, want nil", err)
	}
	if len(ops) != 0 {
		t.Fatalf("second Load() returned %d ops, want 0", len(ops))
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("read quarantined queue: %v", err)
	}
	if string(bak) != "not json" {
		t.Fatalf("quarantined queue = %q, want the latest corrupt content", bak)
	}
}

func TestQueueFileNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	q := NewQueueFile(filepath.Join(dir, "buffer_queue.json"))
	ctx := context.Background()

	if err := q.Append(ctx, testOp(t, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "buffer_queue.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory contents: %v", names)
	}
}

func TestQueueFileRoundTripsPayload(t *testing.T) {
	q := NewQueueFile(filepath.Join(t.TempDir(), "buffer_queue.json"))
	ctx := context.Background()

	want := testOp(t, 7)
	if err := q.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ops, err := q.Load(ctx)
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Load() returned %d ops, want 1", len(ops))
	}

	got := ops[0]
	if got.Kind != want.Kind || got.Seq != want.Seq || !got.SubmittedAt.Equal(want.SubmittedAt) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}

	var p domain.CasePayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Clinic != "Neuro" || p.DeviceName != "Endoskop" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
