package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Executor drives a workflow graph to completion: it resolves execution
// order from the edges, invokes the generation callback per node with
// retry and timeout policy, and reports progress after every transition.
type Executor struct {
	rec Recorder
}

// NewExecutor creates an executor. A nil recorder discards progress.
func NewExecutor(rec Recorder) *Executor {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Executor{rec: rec}
}

// Request describes one execution run.
type Request struct {
	// ExecutionID identifies the run; generated when empty.
	ExecutionID string

	// TemplateID is the workflow definition reference, for bookkeeping.
	TemplateID string

	// ScheduleID is set when a schedule firing initiated the run.
	ScheduleID string

	Graph   *Graph
	Options Options

	// Resume continues a previously persisted run: nodes already in the
	// recorded completed set are not re-attempted.
	Resume bool
}

// Execute runs the request to completion, pause, or cancellation.
//
// Structural errors (cycle, dangling edge) fail the run before any node
// executes and are returned as the error. Node-level failures are retried
// per policy, then recorded in the result; they do not produce an error
// return.
func (e *Executor) Execute(ctx context.Context, req Request, fn NodeFunc, onProgress ProgressFunc) (*Result, error) {
	if fn == nil {
		return nil, fmt.Errorf("node callback is required")
	}
	if req.Graph == nil {
		return nil, fmt.Errorf("graph is required")
	}

	opts := req.Options.withDefaults()
	id := req.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}
	g := req.Graph

	res := &Result{
		ExecutionID: id,
		Nodes:       make(map[string]*NodeResult, len(g.Nodes)),
	}

	info := RunInfo{
		TemplateID: req.TemplateID,
		ScheduleID: req.ScheduleID,
		TotalNodes: len(g.Nodes),
		Variables:  opts.Variables,
	}

	if err := g.Validate(); err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, err.Error())
		if beginErr := e.rec.Begin(ctx, id, info); beginErr == nil {
			_ = e.rec.Finish(ctx, id, res)
		}
		return res, err
	}

	statuses := make(map[string]NodeStatus, len(g.Nodes))
	for _, n := range g.Nodes {
		statuses[n.ID] = NodePending
	}
	outputs := make(map[string]string, len(g.Nodes))
	vars := make(map[string]string, len(opts.Variables))

	if req.Resume {
		prior, priorVars, err := e.rec.ResumePoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading resume point: %w", err)
		}
		for nodeID, output := range prior {
			if _, ok := statuses[nodeID]; ok {
				statuses[nodeID] = NodeCompleted
				outputs[nodeID] = output
				res.Nodes[nodeID] = &NodeResult{NodeID: nodeID, Status: NodeCompleted, Output: output}
			}
		}
		for k, v := range priorVars {
			vars[k] = v
		}
	} else {
		if err := e.rec.Begin(ctx, id, info); err != nil {
			return nil, fmt.Errorf("registering execution: %w", err)
		}
	}
	for k, v := range opts.Variables {
		vars[k] = v
	}

	start := time.Now()

	if opts.CheckpointInterval > 0 {
		ticker := time.NewTicker(opts.CheckpointInterval)
		done := make(chan struct{})
		defer close(done)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if _, err := e.rec.Checkpoint(ctx, id, ReasonInterval, nil); err != nil {
						log.Warn().Err(err).Str("execution_id", id).Msg("Periodic checkpoint failed")
					}
				}
			}
		}()
	}

	run := &runState{
		executor:    e,
		executionID: id,
		graph:       g,
		opts:        opts,
		fn:          fn,
		onProgress:  onProgress,
		statuses:    statuses,
		outputs:     outputs,
		vars:        vars,
		result:      res,
		start:       start,
	}

	return run.drive(ctx)
}

// runState holds the in-memory progress of a single run.
type runState struct {
	executor    *Executor
	executionID string
	graph       *Graph
	opts        Options
	fn          NodeFunc
	onProgress  ProgressFunc

	mu       sync.Mutex
	statuses map[string]NodeStatus
	outputs  map[string]string
	vars     map[string]string
	result   *Result
	start    time.Time
}

func (r *runState) drive(ctx context.Context) (*Result, error) {
	for {
		if ctx.Err() != nil {
			return r.finishCancelled(ctx), nil
		}
		if r.executor.rec.PauseRequested(r.executionID) {
			return r.finishPaused(), nil
		}

		eligible := r.eligibleNodes(ctx)
		if len(eligible) == 0 {
			if r.pendingCount() == 0 {
				break
			}
			// Validation rules this out; bail rather than spin.
			r.mu.Lock()
			r.result.Errors = append(r.result.Errors, "no eligible node among pending nodes")
			r.mu.Unlock()
			return r.finish(ctx, StatusFailed), nil
		}

		batch := eligible
		if len(batch) > r.opts.MaxConcurrency {
			batch = batch[:r.opts.MaxConcurrency]
		}

		if len(batch) == 1 {
			r.runOne(ctx, batch[0])
			continue
		}

		var wg sync.WaitGroup
		for _, node := range batch {
			wg.Add(1)
			go func(n *Node) {
				defer wg.Done()
				r.runOne(ctx, n)
			}(node)
		}
		wg.Wait()
	}

	_, failed, _, _ := r.counts()
	status := StatusCompleted
	if failed > 0 {
		status = StatusFailed
	}

	return r.finish(ctx, status), nil
}

// eligibleNodes returns pending nodes whose dependencies are all resolved,
// in ascending declared order with ties broken by node id. Nodes blocked
// by a failed or skipped dependency are marked skipped on the way.
func (r *runState) eligibleNodes(ctx context.Context) []*Node {
	r.mu.Lock()
	deps := r.graph.dependencies()
	order := r.graph.declaredOrder()

	var eligible []*Node
	var blocked []string

	for i := range r.graph.Nodes {
		node := &r.graph.Nodes[i]
		if r.statuses[node.ID] != NodePending {
			continue
		}

		ready := true
		failedDep := false
		for _, dep := range deps[node.ID] {
			switch r.statuses[dep] {
			case NodeCompleted:
			case NodeFailed, NodeSkipped:
				if !r.opts.ContinueOnFailure {
					failedDep = true
				}
			default:
				ready = false
			}
		}

		if failedDep {
			blocked = append(blocked, node.ID)
			continue
		}
		if ready {
			eligible = append(eligible, node)
		}
	}
	r.mu.Unlock()

	for _, id := range blocked {
		r.applyResult(ctx, NodeResult{NodeID: id, Status: NodeSkipped})
	}
	if len(blocked) > 0 {
		// Skipping may unblock further skip propagation.
		return r.eligibleNodes(ctx)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		oi, oj := order[eligible[i].ID], order[eligible[j].ID]
		if oi != oj {
			return oi < oj
		}
		return eligible[i].ID < eligible[j].ID
	})

	return eligible
}

func (r *runState) runOne(ctx context.Context, node *Node) {
	r.mu.Lock()
	r.statuses[node.ID] = NodeRunning
	input := resolveInput(node, r.graph.incoming(node.ID), r.outputs, r.vars)
	r.mu.Unlock()

	res := NodeResult{NodeID: node.ID}
	start := time.Now()

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		nodeCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.opts.NodeTimeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, r.opts.NodeTimeout)
		}

		output, err := r.fn(nodeCtx, node.ID, input)
		cancel()

		if err == nil {
			res.Status = NodeCompleted
			res.Output = output
			res.Error = ""
			break
		}

		res.Error = err.Error()
		log.Debug().
			Err(err).
			Str("execution_id", r.executionID).
			Str("node_id", node.ID).
			Int("attempt", attempt+1).
			Msg("Node execution attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < r.opts.MaxRetries {
			select {
			case <-ctx.Done():
			case <-time.After(r.opts.RetryDelay):
			}
		}
	}

	if res.Status != NodeCompleted {
		res.Status = NodeFailed
	}
	res.Duration = time.Since(start)

	r.applyResult(ctx, res)

	if res.Status == NodeFailed && !r.opts.ContinueOnFailure {
		for _, dep := range r.graph.transitiveDependents(node.ID) {
			r.mu.Lock()
			pending := r.statuses[dep] == NodePending
			r.mu.Unlock()
			if pending {
				r.applyResult(ctx, NodeResult{NodeID: dep, Status: NodeSkipped})
			}
		}
	}
}

// applyResult records a node transition: run state, recorder, progress.
func (r *runState) applyResult(ctx context.Context, res NodeResult) {
	r.mu.Lock()
	r.statuses[res.NodeID] = res.Status
	if res.Status == NodeCompleted {
		r.outputs[res.NodeID] = res.Output
	}
	stored := res
	r.result.Nodes[res.NodeID] = &stored
	if res.Status == NodeFailed {
		r.result.Errors = append(r.result.Errors, fmt.Sprintf("node %s: %s", res.NodeID, res.Error))
	}
	r.mu.Unlock()

	if err := r.executor.rec.UpdateNode(ctx, r.executionID, res); err != nil {
		log.Warn().
			Err(err).
			Str("execution_id", r.executionID).
			Str("node_id", res.NodeID).
			Msg("Failed to persist node state")
	}

	r.emitProgress(res.NodeID)
}

func (r *runState) emitProgress(current string) {
	if r.onProgress == nil {
		return
	}

	r.mu.Lock()
	completed, failed, skipped, _ := r.countsLocked()
	total := len(r.graph.Nodes)
	r.mu.Unlock()

	elapsed := time.Since(r.start)
	p := Progress{
		ExecutionID:        r.executionID,
		CurrentNode:        current,
		TotalBlocks:        total,
		CompletedBlocks:    completed,
		FailedBlocks:       failed,
		SkippedBlocks:      skipped,
		TotalExecutionTime: elapsed,
	}
	if completed > 0 {
		p.AverageBlockTime = elapsed / time.Duration(completed)
	}

	r.onProgress(p)
}

func (r *runState) counts() (completed, failed, skipped, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countsLocked()
}

func (r *runState) countsLocked() (completed, failed, skipped, pending int) {
	for _, s := range r.statuses {
		switch s {
		case NodeCompleted:
			completed++
		case NodeFailed:
			failed++
		case NodeSkipped:
			skipped++
		case NodePending, NodeRunning:
			pending++
		}
	}
	return
}

func (r *runState) pendingCount() int {
	_, _, _, pending := r.counts()
	return pending
}

func (r *runState) finish(ctx context.Context, status Status) *Result {
	r.fillTotals(status)

	reason := ReasonComplete
	if status == StatusFailed {
		reason = ReasonFailure
	}
	if _, err := r.executor.rec.Checkpoint(ctx, r.executionID, reason, nil); err != nil {
		log.Warn().Err(err).Str("execution_id", r.executionID).Msg("Final checkpoint failed")
	}
	if err := r.executor.rec.Finish(ctx, r.executionID, r.result); err != nil {
		log.Warn().Err(err).Str("execution_id", r.executionID).Msg("Failed to persist final state")
	}

	return r.result
}

func (r *runState) finishCancelled(ctx context.Context) *Result {
	r.fillTotals(StatusCancelled)
	r.result.Errors = append(r.result.Errors, "execution cancelled")

	// The run context is gone; persist with a fresh one.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := r.executor.rec.Checkpoint(persistCtx, r.executionID, ReasonCancel, nil); err != nil {
		log.Warn().Err(err).Str("execution_id", r.executionID).Msg("Cancellation checkpoint failed")
	}
	if err := r.executor.rec.Finish(persistCtx, r.executionID, r.result); err != nil {
		log.Warn().Err(err).Str("execution_id", r.executionID).Msg("Failed to persist cancelled state")
	}

	return r.result
}

// finishPaused stops at a node boundary. The pause checkpoint and status
// flip already happened inside the state manager's Pause.
func (r *runState) finishPaused() *Result {
	r.fillTotals(StatusPaused)
	return r.result
}

func (r *runState) fillTotals(status Status) {
	completed, failed, skipped, _ := r.counts()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.result.Status = status
	r.result.CompletedBlocks = completed
	r.result.FailedBlocks = failed
	r.result.SkippedBlocks = skipped
	r.result.TotalExecutionTime = time.Since(r.start)
	if completed > 0 {
		r.result.AverageBlockTime = r.result.TotalExecutionTime / time.Duration(completed)
	}
}
