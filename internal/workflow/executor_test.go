package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeRecorder captures recorder calls for assertions.
type fakeRecorder struct {
	mu          sync.Mutex
	began       bool
	updates     []NodeResult
	checkpoints []string
	finished    *Result
	paused      bool
	resumePoint map[string]string
	resumeVars  map[string]string
}

func (f *fakeRecorder) Begin(ctx context.Context, id string, info RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.began = true
	return nil
}

func (f *fakeRecorder) UpdateNode(ctx context.Context, id string, res NodeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, res)
	return nil
}

func (f *fakeRecorder) Checkpoint(ctx context.Context, id, reason string, meta map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append(f.checkpoints, reason)
	return fmt.Sprintf("cp-%d", len(f.checkpoints)), nil
}

func (f *fakeRecorder) Finish(ctx context.Context, id string, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = res
	return nil
}

func (f *fakeRecorder) PauseRequested(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeRecorder) ResumePoint(ctx context.Context, id string) (map[string]string, map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumePoint, f.resumeVars, nil
}

func echoFunc(ctx context.Context, nodeID, input string) (string, error) {
	return "out:" + nodeID, nil
}

func fastOptions() Options {
	return Options{MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestExecute_Chain(t *testing.T) {
	e := NewExecutor(nil)

	res, err := e.Execute(context.Background(), Request{
		Graph:   chainGraph(),
		Options: fastOptions(),
	}, echoFunc, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %v, want %v", res.Status, StatusCompleted)
	}
	if res.CompletedBlocks != 3 {
		t.Errorf("completed = %d, want 3", res.CompletedBlocks)
	}
	if res.ExecutionID == "" {
		t.Error("execution id should be generated")
	}
	for _, id := range []string{"a", "b", "c"} {
		node, ok := res.Nodes[id]
		if !ok {
			t.Fatalf("missing result for node %s", id)
		}
		if node.Status != NodeCompleted {
			t.Errorf("node %s status = %v, want completed", id, node.Status)
		}
	}
}

// A three-node chain where the middle node fails twice before succeeding
// still completes fully under maxRetries=2.
func TestExecute_RetryThenSucceed(t *testing.T) {
	e := NewExecutor(nil)

	var mu sync.Mutex
	bCalls := 0
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		if nodeID == "b" {
			mu.Lock()
			bCalls++
			calls := bCalls
			mu.Unlock()
			if calls <= 2 {
				return "", errors.New("transient generation error")
			}
		}
		return "out:" + nodeID, nil
	}

	res, err := e.Execute(context.Background(), Request{
		Graph:   chainGraph(),
		Options: fastOptions(),
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", res.Status)
	}
	if res.CompletedBlocks != 3 {
		t.Errorf("completed = %d, want 3", res.CompletedBlocks)
	}
	if res.FailedBlocks != 0 {
		t.Errorf("failed = %d, want 0", res.FailedBlocks)
	}
	if res.Nodes["b"].Attempts != 3 {
		t.Errorf("node b attempts = %d, want 3", res.Nodes["b"].Attempts)
	}
}

// A persistent failure exhausts retries, fails the node, and skips its
// transitive dependents without touching finished siblings.
func TestExecute_FailureSkipsDependents(t *testing.T) {
	e := NewExecutor(nil)

	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		if nodeID == "b" {
			return "", errors.New("generation backend unavailable")
		}
		return "out:" + nodeID, nil
	}

	res, err := e.Execute(context.Background(), Request{
		Graph:   chainGraph(),
		Options: Options{MaxRetries: 1, RetryDelay: time.Millisecond},
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if res.CompletedBlocks != 1 {
		t.Errorf("completed = %d, want 1", res.CompletedBlocks)
	}
	if res.FailedBlocks != 1 {
		t.Errorf("failed = %d, want 1", res.FailedBlocks)
	}
	if res.SkippedBlocks != 1 {
		t.Errorf("skipped = %d, want 1", res.SkippedBlocks)
	}
	if res.Nodes["b"].Attempts != 2 {
		t.Errorf("node b attempts = %d, want 2", res.Nodes["b"].Attempts)
	}
	if res.Nodes["c"].Status != NodeSkipped {
		t.Errorf("node c status = %v, want skipped", res.Nodes["c"].Status)
	}
	if len(res.Errors) == 0 {
		t.Error("expected run errors to be recorded")
	}
}

func TestExecute_ContinueOnFailure(t *testing.T) {
	e := NewExecutor(nil)

	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		if nodeID == "b" {
			return "", errors.New("boom")
		}
		return "out:" + nodeID, nil
	}

	res, err := e.Execute(context.Background(), Request{
		Graph: chainGraph(),
		Options: Options{
			MaxRetries:        0,
			RetryDelay:        time.Millisecond,
			ContinueOnFailure: true,
		},
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// c still runs with an empty upstream output.
	if res.Nodes["c"].Status != NodeCompleted {
		t.Errorf("node c status = %v, want completed", res.Nodes["c"].Status)
	}
	if res.SkippedBlocks != 0 {
		t.Errorf("skipped = %d, want 0", res.SkippedBlocks)
	}
}

func TestExecute_CycleFailsFast(t *testing.T) {
	e := NewExecutor(nil)

	called := false
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		called = true
		return "", nil
	}

	g := &Graph{
		Nodes: []Node{{ID: "a"}, {ID: "b"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	res, err := e.Execute(context.Background(), Request{Graph: g}, fn, nil)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Execute() error = %v, want ErrCycle", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if called {
		t.Error("callback must not run for a cyclic graph")
	}
}

func TestExecute_Progress(t *testing.T) {
	e := NewExecutor(nil)

	var progress []Progress
	onProgress := func(p Progress) {
		progress = append(progress, p)
	}

	res, err := e.Execute(context.Background(), Request{
		Graph:   chainGraph(),
		Options: fastOptions(),
	}, echoFunc, onProgress)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(progress) != 3 {
		t.Fatalf("progress calls = %d, want 3", len(progress))
	}

	last := progress[len(progress)-1]
	if last.CompletedBlocks != 3 {
		t.Errorf("final progress completed = %d, want 3", last.CompletedBlocks)
	}
	if last.TotalBlocks != 3 {
		t.Errorf("final progress total = %d, want 3", last.TotalBlocks)
	}
	if last.AverageBlockTime <= 0 {
		t.Error("average block time should be positive once nodes complete")
	}
	if res.AverageBlockTime > res.TotalExecutionTime {
		t.Error("average block time cannot exceed total execution time")
	}
}

func TestExecute_AverageTimeZeroWithoutCompletions(t *testing.T) {
	e := NewExecutor(nil)

	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		return "", errors.New("always fails")
	}

	g := &Graph{Nodes: []Node{{ID: "only"}}}
	res, err := e.Execute(context.Background(), Request{
		Graph:   g,
		Options: Options{MaxRetries: 0, RetryDelay: time.Millisecond},
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.AverageBlockTime != 0 {
		t.Errorf("average block time = %v, want 0", res.AverageBlockTime)
	}
}

func TestExecute_DeclaredOrder(t *testing.T) {
	e := NewExecutor(nil)

	g := &Graph{
		Nodes: []Node{{ID: "z"}, {ID: "m"}, {ID: "a"}},
	}

	var order []string
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		order = append(order, nodeID)
		return "", nil
	}

	if _, err := e.Execute(context.Background(), Request{Graph: g, Options: fastOptions()}, fn, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{"z", "m", "a"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestExecute_ParallelReadySet(t *testing.T) {
	e := NewExecutor(nil)

	g := &Graph{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		mu.Lock()
		// d must never start before both b and c finished.
		if nodeID == "d" && (!seen["b"] || !seen["c"]) {
			mu.Unlock()
			return "", errors.New("dependency order violated")
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		seen[nodeID] = true
		mu.Unlock()
		return "out:" + nodeID, nil
	}

	res, err := e.Execute(context.Background(), Request{
		Graph:   g,
		Options: Options{MaxRetries: 0, RetryDelay: time.Millisecond, MaxConcurrency: 2},
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v, errors = %v", res.Status, res.Errors)
	}
	if res.CompletedBlocks != 4 {
		t.Errorf("completed = %d, want 4", res.CompletedBlocks)
	}
}

func TestExecute_NodeTimeout(t *testing.T) {
	e := NewExecutor(nil)

	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too slow", nil
		}
	}

	g := &Graph{Nodes: []Node{{ID: "slow"}}}
	res, err := e.Execute(context.Background(), Request{
		Graph: g,
		Options: Options{
			MaxRetries:  1,
			RetryDelay:  time.Millisecond,
			NodeTimeout: 10 * time.Millisecond,
		},
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if res.Nodes["slow"].Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (timeout is retried)", res.Nodes["slow"].Attempts)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	e := NewExecutor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		called = true
		return "", nil
	}

	res, err := e.Execute(ctx, Request{Graph: chainGraph(), Options: fastOptions()}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("status = %v, want cancelled", res.Status)
	}
	if called {
		t.Error("callback must not run after cancellation")
	}
}

func TestExecute_Resume(t *testing.T) {
	rec := &fakeRecorder{
		resumePoint: map[string]string{"a": "recovered output"},
	}
	e := NewExecutor(rec)

	var executed []string
	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		executed = append(executed, nodeID)
		if nodeID == "b" && input == "" {
			return "", errors.New("upstream output lost")
		}
		return "out:" + nodeID, nil
	}

	g := chainGraph()
	g.Nodes[1].Content = "{{a}}"

	res, err := e.Execute(context.Background(), Request{
		ExecutionID: "exec-1",
		Graph:       g,
		Options:     fastOptions(),
		Resume:      true,
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Fatalf("status = %v, errors = %v", res.Status, res.Errors)
	}
	for _, id := range executed {
		if id == "a" {
			t.Error("node a must not be re-attempted on resume")
		}
	}
	if res.Nodes["b"].Output != "out:b" {
		t.Errorf("node b output = %q", res.Nodes["b"].Output)
	}
	if res.CompletedBlocks != 3 {
		t.Errorf("completed = %d, want 3 (resumed nodes count)", res.CompletedBlocks)
	}
}

func TestExecute_PauseAtBoundary(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewExecutor(rec)

	fn := func(ctx context.Context, nodeID, input string) (string, error) {
		if nodeID == "a" {
			// Request pause while the first node is mid-flight; the stop
			// happens at the next node boundary.
			rec.mu.Lock()
			rec.paused = true
			rec.mu.Unlock()
		}
		return "out:" + nodeID, nil
	}

	res, err := e.Execute(context.Background(), Request{
		Graph:   chainGraph(),
		Options: fastOptions(),
	}, fn, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusPaused {
		t.Errorf("status = %v, want paused", res.Status)
	}
	if res.CompletedBlocks != 1 {
		t.Errorf("completed = %d, want 1 (a finished before the pause)", res.CompletedBlocks)
	}
}

func TestExecute_RecorderTransitions(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewExecutor(rec)

	if _, err := e.Execute(context.Background(), Request{
		ExecutionID: "exec-2",
		Graph:       chainGraph(),
		Options:     fastOptions(),
	}, echoFunc, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !rec.began {
		t.Error("Begin was not called")
	}
	if len(rec.updates) != 3 {
		t.Errorf("UpdateNode calls = %d, want 3", len(rec.updates))
	}
	if rec.finished == nil {
		t.Fatal("Finish was not called")
	}
	if len(rec.checkpoints) == 0 || rec.checkpoints[len(rec.checkpoints)-1] != "complete" {
		t.Errorf("checkpoints = %v, want trailing complete", rec.checkpoints)
	}
}
