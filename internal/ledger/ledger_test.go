package ledger_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/observe"
)

// memJournal records every append in memory. FailAppend and FailSnapshot
// force write failures for rollback tests.
type memJournal struct {
	mu           sync.Mutex
	records      []ledger.Record
	snapshots    []ledger.Snapshot
	failAppend   error
	failSnapshot error
}

func (j *memJournal) Append(_ context.Context, rec ledger.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failAppend != nil {
		return j.failAppend
	}
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) WriteSnapshot(_ context.Context, snap ledger.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failSnapshot != nil {
		return j.failSnapshot
	}
	j.snapshots = append(j.snapshots, snap)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) recordCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

func newTestLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *memJournal) {
	t.Helper()
	j := &memJournal{}
	l, err := ledger.New("session-1", j, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return l, j
}

func TestCombine(t *testing.T) {
	t.Parallel()

	a := ledger.LineItem{ID: "a", ItemName: "Big Mac", Modifiers: []string{"No Pickles"}, Quantity: 2}
	b := ledger.LineItem{ID: "b", ItemName: "big mac", Modifiers: []string{"no pickles"}, Quantity: 3}

	merged, err := ledger.Combine(a, b)
	if err != nil {
		t.Fatalf("Combine() error: %v", err)
	}
	if merged.Quantity != 5 {
		t.Errorf("Quantity = %d, want 5", merged.Quantity)
	}
	if merged.ID == a.ID || merged.ID == b.ID {
		t.Errorf("merged ID %q should differ from both inputs", merged.ID)
	}
	if a.Quantity != 2 || b.Quantity != 3 {
		t.Error("Combine must not modify its inputs")
	}
}

func TestCombine_DifferentModifiers(t *testing.T) {
	t.Parallel()

	a := ledger.LineItem{ItemName: "Big Mac", Modifiers: []string{"No Pickles"}, Quantity: 1}
	b := ledger.LineItem{ItemName: "Big Mac", Modifiers: []string{"Extra Cheese"}, Quantity: 1}

	if _, err := ledger.Combine(a, b); !errors.Is(err, ledger.ErrNotCombinable) {
		t.Fatalf("Combine() error = %v, want ErrNotCombinable", err)
	}
}

func TestCombinableWith_ModifierOrder(t *testing.T) {
	t.Parallel()

	a := ledger.LineItem{ItemName: "McChicken", Modifiers: []string{"No Mayo", "Extra Lettuce"}}
	b := ledger.LineItem{ItemName: "McChicken", Modifiers: []string{"extra lettuce", "no mayo"}}

	if !a.CombinableWith(b) {
		t.Error("modifier order must not affect combinability")
	}
}

func TestLedger_AddLineItem(t *testing.T) {
	t.Parallel()

	l, j := newTestLedger(t)
	ctx := context.Background()

	li, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", []string{"No Pickles"}, 2)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if li.ID == "" {
		t.Error("line item should get an ID")
	}
	if li.Quantity != 2 {
		t.Errorf("Quantity = %d, want 2", li.Quantity)
	}

	items := l.Items()
	if len(items) != 1 {
		t.Fatalf("Items() len = %d, want 1", len(items))
	}
	if j.recordCount() != 1 {
		t.Errorf("journal records = %d, want 1", j.recordCount())
	}

	// Separate lines by default, even for identical items.
	if _, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", []string{"No Pickles"}, 1); err != nil {
		t.Fatalf("second AddLineItem() error: %v", err)
	}
	if got := len(l.Items()); got != 2 {
		t.Errorf("Items() len = %d, want 2 (no auto-combine by default)", got)
	}
}

func TestLedger_AddLineItem_AutoCombine(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t, ledger.WithAutoCombine(true))
	ctx := context.Background()

	first, err := l.AddLineItem(ctx, "McDouble", "Beef & Pork", nil, 1)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	merged, err := l.AddLineItem(ctx, "mcdouble", "Beef & Pork", nil, 2)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	items := l.Items()
	if len(items) != 1 {
		t.Fatalf("Items() len = %d, want 1 with auto-combine", len(items))
	}
	if merged.Quantity != 3 {
		t.Errorf("merged Quantity = %d, want 3", merged.Quantity)
	}
	if merged.ID == first.ID {
		t.Error("merged line item should carry a fresh ID")
	}
}

func TestLedger_InvalidQuantity(t *testing.T) {
	t.Parallel()

	l, j := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", nil, 0); !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Fatalf("AddLineItem(qty=0) error = %v, want ErrInvalidQuantity", err)
	}
	if j.recordCount() != 0 {
		t.Error("rejected mutation must not be journalled")
	}

	li, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", nil, 1)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if _, err := l.UpdateQuantity(ctx, li.ID, -1); !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Fatalf("UpdateQuantity(-1) error = %v, want ErrInvalidQuantity", err)
	}
	if got := l.Items()[0].Quantity; got != 1 {
		t.Errorf("Quantity after rejected update = %d, want 1", got)
	}
}

func TestLedger_RemoveLineItem(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	li, err := l.AddLineItem(ctx, "Filet-O-Fish", "Chicken & Fish", nil, 1)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	removed, err := l.RemoveLineItem(ctx, li.ID)
	if err != nil {
		t.Fatalf("RemoveLineItem() error: %v", err)
	}
	if removed.ID != li.ID {
		t.Errorf("removed ID = %q, want %q", removed.ID, li.ID)
	}
	if got := len(l.Items()); got != 0 {
		t.Errorf("Items() len = %d, want 0", got)
	}

	if _, err := l.RemoveLineItem(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("RemoveLineItem(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestLedger_UpdateQuantity(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	li, err := l.AddLineItem(ctx, "Coca-Cola", "Drinks", nil, 1)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	updated, err := l.UpdateQuantity(ctx, li.ID, 4)
	if err != nil {
		t.Fatalf("UpdateQuantity() error: %v", err)
	}
	if updated.Quantity != 4 {
		t.Errorf("updated Quantity = %d, want 4", updated.Quantity)
	}
	if got := l.Items()[0].Quantity; got != 4 {
		t.Errorf("Quantity = %d, want 4", got)
	}

	if _, err := l.UpdateQuantity(ctx, "missing", 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("UpdateQuantity(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestLedger_Complete(t *testing.T) {
	t.Parallel()

	l, j := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", []string{"No Pickles"}, 2); err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if _, err := l.AddLineItem(ctx, "Coca-Cola", "Drinks", nil, 3); err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	snap, err := l.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if snap.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", snap.TotalCount)
	}
	if len(snap.Items) != 2 {
		t.Errorf("snapshot items = %d, want 2", len(snap.Items))
	}
	if snap.Summary == "" {
		t.Error("snapshot summary should not be empty")
	}
	if len(j.snapshots) != 1 {
		t.Fatalf("snapshots written = %d, want 1", len(j.snapshots))
	}

	// Terminal state: all mutators refuse, reads stay available.
	if _, err := l.AddLineItem(ctx, "McChicken", "Chicken & Fish", nil, 1); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("AddLineItem after Complete error = %v, want ErrClosed", err)
	}
	if _, err := l.Complete(ctx); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("second Complete error = %v, want ErrClosed", err)
	}
	if err := l.Cancel(ctx); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("Cancel after Complete error = %v, want ErrClosed", err)
	}
	if got := len(l.Items()); got != 2 {
		t.Errorf("Items() after Complete len = %d, want 2 (frozen reads)", got)
	}
	if l.Status() != ledger.StatusCompleted {
		t.Errorf("Status = %q, want %q", l.Status(), ledger.StatusCompleted)
	}
}

func TestLedger_Cancel(t *testing.T) {
	t.Parallel()

	l, j := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddLineItem(ctx, "McDouble", "Beef & Pork", nil, 1); err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if err := l.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	if l.Status() != ledger.StatusCancelled {
		t.Errorf("Status = %q, want %q", l.Status(), ledger.StatusCancelled)
	}
	if len(j.snapshots) != 0 {
		t.Error("cancelled session must not write a snapshot")
	}
	if _, err := l.RemoveLineItem(ctx, "any"); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("RemoveLineItem after Cancel error = %v, want ErrClosed", err)
	}
}

func TestLedger_Clear(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", nil, 1); err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got := len(l.Items()); got != 0 {
		t.Errorf("Items() after Clear len = %d, want 0", got)
	}
	if l.Status() != ledger.StatusOpen {
		t.Errorf("Status after Clear = %q, want open", l.Status())
	}
}

func TestLedger_JournalFailureRollsBack(t *testing.T) {
	t.Parallel()

	j := &memJournal{}
	l, err := ledger.New("session-err", j)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	li, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", nil, 1)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	diskFull := errors.New("disk full")
	j.failAppend = diskFull

	_, err = l.AddLineItem(ctx, "Coca-Cola", "Drinks", nil, 1)
	var werr *ledger.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("AddLineItem() error = %v, want *WriteError", err)
	}
	if !errors.Is(err, diskFull) {
		t.Error("WriteError should wrap the underlying journal error")
	}
	if werr.Op != ledger.OpAddLineItem {
		t.Errorf("WriteError.Op = %q, want %q", werr.Op, ledger.OpAddLineItem)
	}
	if got := len(l.Items()); got != 1 {
		t.Errorf("Items() len = %d, want 1 (failed write must not mutate)", got)
	}

	if _, err := l.UpdateQuantity(ctx, li.ID, 5); err == nil {
		t.Fatal("UpdateQuantity() should fail while journal is failing")
	}
	if got := l.Items()[0].Quantity; got != 1 {
		t.Errorf("Quantity = %d, want 1 after failed update", got)
	}

	// Snapshot failure keeps the session open so the order is not lost.
	j.failAppend = nil
	j.failSnapshot = diskFull
	if _, err := l.Complete(ctx); err == nil {
		t.Fatal("Complete() should fail when the snapshot write fails")
	}
	if l.Status() != ledger.StatusOpen {
		t.Errorf("Status = %q, want open after failed Complete", l.Status())
	}
}

func TestLedger_ConcurrentMutations(t *testing.T) {
	t.Parallel()

	l, j := newTestLedger(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.AddLineItem(ctx, "Coca-Cola", "Drinks", nil, 1); err != nil {
				t.Errorf("AddLineItem() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(l.Items()); got != workers {
		t.Errorf("Items() len = %d, want %d (no lost updates)", got, workers)
	}
	if j.recordCount() != workers {
		t.Errorf("journal records = %d, want %d", j.recordCount(), workers)
	}
}

func TestFileJournal_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := ledger.NewFileJournal(dir, "session-file")
	if err != nil {
		t.Fatalf("NewFileJournal() error: %v", err)
	}
	defer j.Close()

	l, err := ledger.New("session-file", j)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	li, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", []string{"No Pickles"}, 2)
	if err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}
	if _, err := l.UpdateQuantity(ctx, li.ID, 3); err != nil {
		t.Fatalf("UpdateQuantity() error: %v", err)
	}
	if _, err := l.Complete(ctx); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	f, err := os.Open(j.LogPath())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var ops []ledger.Operation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec ledger.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal log line: %v", err)
		}
		if rec.SessionID != "session-file" {
			t.Errorf("record session = %q, want session-file", rec.SessionID)
		}
		ops = append(ops, rec.Operation)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan log: %v", err)
	}

	want := []ledger.Operation{ledger.OpAddLineItem, ledger.OpUpdateQuantity, ledger.OpComplete}
	if len(ops) != len(want) {
		t.Fatalf("log records = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, ops[i], want[i])
		}
	}

	data, err := os.ReadFile(j.SnapshotPath())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.TotalCount != 3 {
		t.Errorf("snapshot TotalCount = %d, want 3", snap.TotalCount)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := ledger.NewRegistry()
	j := &memJournal{}

	l, err := r.Open("s1", j)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if _, err := r.Open("s1", j); !errors.Is(err, ledger.ErrDuplicateSession) {
		t.Fatalf("duplicate Open() error = %v, want ErrDuplicateSession", err)
	}

	got, ok := r.Get("s1")
	if !ok || got != l {
		t.Error("Get() should return the opened ledger")
	}

	if !r.Remove("s1") {
		t.Error("Remove() = false, want true")
	}
	if r.Remove("s1") {
		t.Error("second Remove() = true, want false")
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("Get() after Remove should report missing")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

// newMeterReader returns a Metrics instance backed by a ManualReader for
// programmatic inspection.
func newMeterReader(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// metricByName collects current metric data and returns the named metric.
func metricByName(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestLedger_WithMetricsRecordsJournalActivity(t *testing.T) {
	t.Parallel()

	m, reader := newMeterReader(t)
	j := &memJournal{}
	l, err := ledger.New("session-metrics", j, ledger.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	if _, err := l.AddLineItem(ctx, "Big Mac", "Beef & Pork", nil, 1); err != nil {
		t.Fatalf("AddLineItem() error: %v", err)
	}

	met := metricByName(t, reader, "vocarta.journal.write.duration")
	if met == nil {
		t.Fatal("journal write duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("journal write duration has no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("journal write sample count = %d, want 1", got)
	}

	met = metricByName(t, reader, "vocarta.ledger.mutations")
	if met == nil {
		t.Fatal("ledger mutations metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("ledger mutations has no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("ledger mutations = %d, want 1", got)
	}
}

func TestLedger_WithMetricsCountsWriteFailures(t *testing.T) {
	t.Parallel()

	m, reader := newMeterReader(t)
	j := &memJournal{failAppend: errors.New("disk full")}
	l, err := ledger.New("session-metrics-err", j, ledger.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var werr *ledger.WriteError
	_, err = l.AddLineItem(context.Background(), "Big Mac", "Beef & Pork", nil, 1)
	if !errors.As(err, &werr) {
		t.Fatalf("AddLineItem() error = %v, want *WriteError", err)
	}

	met := metricByName(t, reader, "vocarta.journal.errors")
	if met == nil {
		t.Fatal("journal errors metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("journal errors has no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("journal errors = %d, want 1", got)
	}

	met = metricByName(t, reader, "vocarta.ledger.mutations")
	if met != nil {
		if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
			t.Error("a failed append must not count as a committed mutation")
		}
	}
}
