package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/declarant/internal/config"
	"github.com/yourorg/declarant/internal/ingest"
	"github.com/yourorg/declarant/internal/store"
	"github.com/yourorg/declarant/pkg/types"
)

type fakeClassifier struct {
	results map[string]types.Result
	errs    map[string]error
}

func (f *fakeClassifier) Classify(ctx context.Context, item types.Item) (types.Result, error) {
	if err := f.errs[item.ProductName]; err != nil {
		return types.Result{}, err
	}
	return f.results[item.ProductName], nil
}

func newTestProcessor(t *testing.T, client *fakeClassifier) (*Processor, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := config.ProcessingConfig{ChunkSize: 2, HighConfidence: 80, MediumConfidence: 40}
	return &Processor{Store: st, Client: client, Config: cfg}, st
}

func goodsTable() *ingest.Table {
	return &ingest.Table{
		Columns: []string{"Товар", "Бренд"},
		Rows: [][]string{
			{"Смартфон", "Apple"},
			{"Кофе", ""},
			{"Шины", ""},
		},
	}
}

func TestProcessCompletesSession(t *testing.T) {
	client := &fakeClassifier{results: map[string]types.Result{
		"Смартфон": {HSCode: "8517.12.000", Confidence: 95, Description: "телефоны"},
		"Кофе":     {HSCode: "0901.11.000", Confidence: 55},
		"Шины":     {HSCode: "4011.10.000", Confidence: 30},
	}}
	proc, st := newTestProcessor(t, client)

	mapping := ingest.Mapping{ingest.RoleProductName: "Товар", ingest.RoleBrand: "Бренд"}
	outcome, err := proc.Process(context.Background(), "goods.csv", goodsTable(), mapping, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess := outcome.Session
	if sess.Status != types.SessionCompleted {
		t.Fatalf("expected completed session, got %s", sess.Status)
	}
	if sess.ProcessedItems != 3 {
		t.Fatalf("expected 3 processed items, got %d", sess.ProcessedItems)
	}
	if sess.HighConfidence != 1 || sess.MediumConfidence != 1 || sess.LowConfidence != 1 {
		t.Fatalf("unexpected tier counts %+v", sess)
	}
	if sess.ProcessingSeconds < 0 {
		t.Fatalf("processing time must be non-negative, got %f", sess.ProcessingSeconds)
	}

	results, err := st.GetResults(sess.ID, store.ResultFilter{})
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 stored results, got %d", len(results))
	}
	if results[0].Brand != "Apple" {
		t.Fatalf("mapped brand must be stored, got %q", results[0].Brand)
	}
	if results[0].OriginalDescription != "телефоны" {
		t.Fatalf("classifier description must be stored, got %q", results[0].OriginalDescription)
	}
}

func TestProcessStoresSentinelForFailedItem(t *testing.T) {
	client := &fakeClassifier{
		results: map[string]types.Result{
			"Смартфон": {HSCode: "8517.12.000", Confidence: 95},
			"Шины":     {HSCode: "4011.10.000", Confidence: 85},
		},
		errs: map[string]error{"Кофе": errors.New("llm unavailable")},
	}
	proc, st := newTestProcessor(t, client)

	mapping := ingest.Mapping{ingest.RoleProductName: "Товар"}
	outcome, err := proc.Process(context.Background(), "goods.csv", goodsTable(), mapping, nil)
	if err != nil {
		t.Fatalf("one failed item must not fail the run: %v", err)
	}
	if outcome.Session.Status != types.SessionCompleted {
		t.Fatalf("session must still complete, got %s", outcome.Session.Status)
	}

	results, _ := st.GetResults(outcome.Session.ID, store.ResultFilter{})
	failed := results[1]
	if failed.HSCode != types.SentinelHSCode || failed.Confidence != 0 {
		t.Fatalf("expected sentinel row, got %+v", failed)
	}
	if !strings.Contains(failed.Reasoning, "Исключение") {
		t.Fatalf("sentinel reasoning must carry the error, got %q", failed.Reasoning)
	}
	if len(outcome.Run.Errors) != 1 {
		t.Fatalf("expected 1 run error, got %d", len(outcome.Run.Errors))
	}
}

func TestProcessMarksSessionFailedOnBadMapping(t *testing.T) {
	proc, st := newTestProcessor(t, &fakeClassifier{})

	table := &ingest.Table{Columns: []string{"Товар"}, Rows: [][]string{{" "}}}
	_, err := proc.Process(context.Background(), "empty.csv", table, ingest.Mapping{ingest.RoleProductName: "Товар"}, nil)
	if !errors.Is(err, ingest.ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	sessions, _ := st.ListSessions(0)
	if len(sessions) != 1 {
		t.Fatalf("session must still be recorded, got %d", len(sessions))
	}
	if sessions[0].Status != types.SessionFailed {
		t.Fatalf("session must be marked failed, got %s", sessions[0].Status)
	}
}

func TestProcessHonorsZeroMediumThreshold(t *testing.T) {
	client := &fakeClassifier{results: map[string]types.Result{
		"Смартфон": {HSCode: "8517.12.000", Confidence: 95},
		"Кофе":     {HSCode: "0901.11.000", Confidence: 55},
		"Шины":     {HSCode: "4011.10.000", Confidence: 30},
	}}
	proc, _ := newTestProcessor(t, client)
	proc.Config.MediumConfidence = 0

	mapping := ingest.Mapping{ingest.RoleProductName: "Товар"}
	outcome, err := proc.Process(context.Background(), "goods.csv", goodsTable(), mapping, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess := outcome.Session
	if sess.HighConfidence != 1 || sess.MediumConfidence != 2 || sess.LowConfidence != 0 {
		t.Fatalf("medium floor 0 must leave no low tier, got high=%d medium=%d low=%d",
			sess.HighConfidence, sess.MediumConfidence, sess.LowConfidence)
	}
}

func TestProcessReportsProgress(t *testing.T) {
	client := &fakeClassifier{results: map[string]types.Result{
		"Смартфон": {HSCode: "8517.12.000", Confidence: 95},
		"Кофе":     {HSCode: "0901.11.000", Confidence: 55},
		"Шины":     {HSCode: "4011.10.000", Confidence: 30},
	}}
	proc, _ := newTestProcessor(t, client)

	var last int
	mapping := ingest.Mapping{ingest.RoleProductName: "Товар"}
	outcome, err := proc.Process(context.Background(), "goods.csv", goodsTable(), mapping, func(processed, total int) {
		last = processed
		if total != 3 {
			t.Errorf("total must be 3, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 3 {
		t.Fatalf("final progress must equal total, got %d", last)
	}
	if outcome.Session.ProcessedItems != 3 {
		t.Fatalf("store must track processed items, got %d", outcome.Session.ProcessedItems)
	}
}
