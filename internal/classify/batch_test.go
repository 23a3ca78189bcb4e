package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yourorg/declarant/pkg/types"
)

// stubClassifier returns canned results keyed by product name.
type stubClassifier struct {
	mu      sync.Mutex
	results map[string]types.Result
	errs    map[string]error

	active    int32
	maxActive int32
}

func (s *stubClassifier) Classify(ctx context.Context, item types.Item) (types.Result, error) {
	cur := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	s.mu.Lock()
	if cur > s.maxActive {
		s.maxActive = cur
	}
	res := s.results[item.ProductName]
	err := s.errs[item.ProductName]
	s.mu.Unlock()
	return res, err
}

func makeItems(n int) []types.Item {
	items := make([]types.Item, n)
	for i := range items {
		items[i] = types.Item{RowIndex: i, ProductName: fmt.Sprintf("товар %d", i)}
	}
	return items
}

func TestRunEmptyItems(t *testing.T) {
	orch := &Orchestrator{Client: &stubClassifier{}}
	run, err := orch.Run(context.Background(), nil, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.Results) != 0 || len(run.Errors) != 0 {
		t.Fatalf("expected empty run, got %+v", run)
	}
	if run.Stats.TotalItems != 0 || run.Stats.Successful != 0 {
		t.Fatalf("expected zero stats, got %+v", run.Stats)
	}
}

func TestRunRejectsBadChunkSize(t *testing.T) {
	orch := &Orchestrator{Client: &stubClassifier{}}
	if _, err := orch.Run(context.Background(), makeItems(3), 0, nil); err == nil {
		t.Fatal("expected error for chunk size 0")
	}
	if _, err := orch.Run(context.Background(), makeItems(3), -2, nil); err == nil {
		t.Fatal("expected error for negative chunk size")
	}
}

func TestRunAlignsResultsWithItems(t *testing.T) {
	stub := &stubClassifier{results: map[string]types.Result{
		"товар 0": {HSCode: "8517.12.000", Confidence: 95},
		"товар 1": {HSCode: "0901.11.000", Confidence: 90},
		"товар 2": {HSCode: "4011.10.000", Confidence: 85},
	}}
	orch := &Orchestrator{Client: stub}
	run, err := orch.Run(context.Background(), makeItems(3), 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"8517.12.000", "0901.11.000", "4011.10.000"}
	for i, code := range want {
		if run.Results[i].HSCode != code {
			t.Fatalf("result %d: expected %s, got %s", i, code, run.Results[i].HSCode)
		}
	}
}

func TestRunSubstitutesSentinelOnFailure(t *testing.T) {
	stub := &stubClassifier{
		results: map[string]types.Result{
			"товар 0": {HSCode: "8517.12.000", Confidence: 95},
			"товар 2": {HSCode: "4011.10.000", Confidence: 85},
		},
		errs: map[string]error{"товар 1": errors.New("timeout")},
	}
	orch := &Orchestrator{Client: stub}
	run, err := orch.Run(context.Background(), makeItems(3), 3, nil)
	if err != nil {
		t.Fatalf("batch must not fail on one item: %v", err)
	}

	failed := run.Results[1]
	if failed.HSCode != types.SentinelHSCode {
		t.Fatalf("expected sentinel code %s, got %s", types.SentinelHSCode, failed.HSCode)
	}
	if failed.Confidence != 0 {
		t.Fatalf("sentinel result must have zero confidence, got %d", failed.Confidence)
	}
	if !strings.Contains(failed.Reasoning, "Исключение") {
		t.Fatalf("sentinel reasoning must mention the error, got %q", failed.Reasoning)
	}
	if len(run.Errors) != 1 {
		t.Fatalf("expected 1 batch error, got %d", len(run.Errors))
	}
	if !strings.Contains(run.Errors[0], "Ошибка обработки элемента 2") {
		t.Fatalf("batch error must name the 1-based item, got %q", run.Errors[0])
	}

	if run.Results[0].HSCode != "8517.12.000" || run.Results[2].HSCode != "4011.10.000" {
		t.Fatal("neighbors of a failed item must keep their results")
	}
}

func TestRunStats(t *testing.T) {
	confidences := []int{90, 50, 0, 80}
	stub := &stubClassifier{results: map[string]types.Result{}}
	for i, c := range confidences {
		stub.results[fmt.Sprintf("товар %d", i)] = types.Result{HSCode: "1234.56.789", Confidence: c}
	}
	orch := &Orchestrator{Client: stub}
	run, err := orch.Run(context.Background(), makeItems(len(confidences)), 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Stats.TotalItems != 4 {
		t.Fatalf("expected 4 total items, got %d", run.Stats.TotalItems)
	}
	if run.Stats.Successful != 3 {
		t.Fatalf("zero confidence must not count as successful, got %d", run.Stats.Successful)
	}
	if run.Stats.HighConfidence != 2 {
		t.Fatalf("expected 2 high confidence, got %d", run.Stats.HighConfidence)
	}
	wantAvg := (90.0 + 50.0 + 80.0) / 3.0
	if math.Abs(run.Stats.AverageConfidence-wantAvg) > 0.01 {
		t.Fatalf("expected average %.2f, got %.2f", wantAvg, run.Stats.AverageConfidence)
	}
}

func TestRunStatsAcrossChunks(t *testing.T) {
	confidences := []int{10, 90, 85, 30, 81}
	stub := &stubClassifier{results: map[string]types.Result{}}
	for i, c := range confidences {
		stub.results[fmt.Sprintf("товар %d", i)] = types.Result{HSCode: "1234.56.789", Confidence: c}
	}
	orch := &Orchestrator{Client: stub}
	run, err := orch.Run(context.Background(), makeItems(len(confidences)), 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Stats.HighConfidence != 3 {
		t.Fatalf("expected 3 high confidence, got %d", run.Stats.HighConfidence)
	}
	if run.Stats.Successful != 5 {
		t.Fatalf("expected 5 successful, got %d", run.Stats.Successful)
	}
	if math.Abs(run.Stats.AverageConfidence-59.2) > 0.01 {
		t.Fatalf("expected average 59.2, got %.2f", run.Stats.AverageConfidence)
	}
}

func TestRunProgressReporting(t *testing.T) {
	stub := &stubClassifier{results: map[string]types.Result{}}
	for i := 0; i < 5; i++ {
		stub.results[fmt.Sprintf("товар %d", i)] = types.Result{HSCode: "1234.56.789", Confidence: 70}
	}
	var calls [][2]int
	orch := &Orchestrator{Client: stub}
	_, err := orch.Run(context.Background(), makeItems(5), 2, func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("expected one progress call per chunk, got %d", len(calls))
	}
	prev := 0
	for _, c := range calls {
		if c[1] != 5 {
			t.Fatalf("total must always be 5, got %d", c[1])
		}
		if c[0] <= prev {
			t.Fatalf("progress must be strictly increasing, got %v", calls)
		}
		prev = c[0]
	}
	if prev != 5 {
		t.Fatalf("final progress must equal total, got %d", prev)
	}
}

func TestRunSurvivesPanickingCallback(t *testing.T) {
	stub := &stubClassifier{results: map[string]types.Result{
		"товар 0": {HSCode: "1234.56.789", Confidence: 70},
		"товар 1": {HSCode: "1234.56.789", Confidence: 70},
	}}
	orch := &Orchestrator{Client: stub}
	run, err := orch.Run(context.Background(), makeItems(2), 1, func(processed, total int) {
		panic("ui went away")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.Results) != 2 {
		t.Fatalf("expected 2 results despite panicking callback, got %d", len(run.Results))
	}
}

func TestRunConcurrencyBoundedByChunkSize(t *testing.T) {
	stub := &stubClassifier{results: map[string]types.Result{}}
	for i := 0; i < 9; i++ {
		stub.results[fmt.Sprintf("товар %d", i)] = types.Result{HSCode: "1234.56.789", Confidence: 70}
	}
	orch := &Orchestrator{Client: stub}
	if _, err := orch.Run(context.Background(), makeItems(9), 3, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.maxActive > 3 {
		t.Fatalf("at most one chunk may be in flight, saw %d concurrent calls", stub.maxActive)
	}
}
