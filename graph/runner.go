package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/approvalflow/graph/emit"
)

// CodeInvalidState is returned when an operation does not fit the
// runner's lifecycle, such as starting an instance twice.
const CodeInvalidState = "INVALID_STATE"

// CompleteOptions carries the caller's input for CompleteTask.
type CompleteOptions struct {
	// CompletedBy identifies who completed the task. It is only reported in
	// events; the engine does not interpret it.
	CompletedBy string

	// ContextUpdate is shallow-merged into the instance context before the
	// graph advances, so guards downstream see it. Last write wins.
	ContextUpdate map[string]any
}

// Runner advances one process instance through a workflow graph.
//
// A Runner owns the instance's execution state: the completed node set,
// the pending task list, the context map, the active branch tags and the
// finished flag. State changes only through Start and CompleteTask, and
// can be rebuilt at any time from a Snapshot with RestoreState.
//
// Each state-changing call:
//  1. applies the caller's input,
//  2. visits nodes reachable from the completed one (fan-out),
//  3. recomputes the finished flag,
//  4. hands a full snapshot to the persistence hook.
//
// Soft failures (dangling transitions, guard errors, completing a task
// that is not pending) never abort a call; they are reported as warning
// events. Only the persistence hook and a malformed graph produce errors.
//
// All methods are safe for concurrent use; state-changing calls are
// serialized. The persistence hook and emitter are invoked while the
// runner's lock is held and must not call back into the runner.
//
// Example:
//
//	ix := graph.NewIndex(model)
//	runner, err := graph.NewRunner(ix, graph.WithPersistHook(hook))
//	if err != nil {
//	    return err
//	}
//	pending, err := runner.Start(ctx, map[string]any{"amount": 50})
//	// ... later, when the reviewer decides:
//	pending, err = runner.CompleteTask(ctx, "review", graph.CompleteOptions{
//	    CompletedBy:   "alice",
//	    ContextUpdate: map[string]any{"approved": true},
//	})
type Runner struct {
	ix  *Index
	cfg runnerConfig

	mu          sync.Mutex
	started     bool
	step        int
	lastNode    string
	completed   map[string]bool
	order       []string
	pending     []PendingTask
	vars        map[string]any
	branches    map[string]bool
	branchOrder []string
	sequences   map[string]SequenceCursor
	finished    bool
}

// NewRunner creates a runner for a new or restored instance of the
// template indexed by ix. Without WithInstanceID a random UUID is used.
func NewRunner(ix *Index, opts ...Option) (*Runner, error) {
	if ix == nil {
		return nil, &EngineError{Message: "index cannot be nil", Code: CodeInvalidOption}
	}

	cfg := runnerConfig{emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}

	r := &Runner{ix: ix, cfg: cfg}
	r.reset()
	return r, nil
}

func (r *Runner) reset() {
	r.step = 0
	r.lastNode = ""
	r.completed = make(map[string]bool)
	r.order = nil
	r.pending = nil
	r.vars = make(map[string]any)
	r.branches = make(map[string]bool)
	r.branchOrder = nil
	r.sequences = make(map[string]SequenceCursor)
	r.finished = false
}

// InstanceID returns the ID stamped on snapshots and events.
func (r *Runner) InstanceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.instanceID
}

// Start begins the instance: the template's base context overlaid with
// initial becomes the instance context, the start node is visited, and the
// resulting pending tasks are returned.
//
// A template with zero or several start nodes fails before any state is
// created with an error wrapping ErrGraphMalformed.
func (r *Runner) Start(ctx context.Context, initial map[string]any) ([]PendingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, &EngineError{Message: "instance already started", Code: CodeInvalidState}
	}
	start, err := r.ix.StartNode()
	if err != nil {
		return nil, &EngineError{Message: "cannot start instance", Code: CodeGraphMalformed, Cause: err}
	}

	before := len(r.pending)
	r.started = true
	r.step++
	r.lastNode = start.ID
	r.vars = r.ix.BaseContext()
	for k, v := range initial {
		r.vars[k] = cloneValue(v)
	}

	r.emit(start.ID, "instance_started", map[string]interface{}{"template": r.ix.TemplateID()})
	r.cfg.metrics.IncInstancesStarted(r.ix.TemplateID())

	r.visit(start.ID)
	return r.finish(ctx, before)
}

// CompleteTask records the completion of nodeID and advances the graph.
//
// opts.ContextUpdate is merged into the context first. If nodeID is a
// pending task it is removed from the pending list, marked completed, and
// every direct successor is visited regardless of transition guards. Completing a node that was never
// pending is accepted with a not_pending warning. Completing a node that
// is already completed only merges the context update. Either way the
// snapshot is persisted and the current pending tasks are returned.
func (r *Runner) CompleteTask(ctx context.Context, nodeID string, opts CompleteOptions) ([]PendingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil, &EngineError{Message: "instance not started", Code: CodeInvalidState}
	}

	before := len(r.pending)
	r.step++
	r.lastNode = nodeID
	for k, v := range opts.ContextUpdate {
		r.vars[k] = cloneValue(v)
	}

	n, ok := r.ix.Node(nodeID)
	if !ok {
		r.warn(nodeID, "missing_node", map[string]interface{}{"reason": "completed node is not in the template"})
		if !r.completed[nodeID] {
			r.completed[nodeID] = true
			r.order = append(r.order, nodeID)
		}
		return r.finish(ctx, before)
	}

	idx := r.pendingIndex(nodeID)
	if idx >= 0 {
		r.pending = append(r.pending[:idx], r.pending[idx+1:]...)
		r.cfg.metrics.IncTasksCompleted(r.ix.TemplateID(), n.Type)
	}

	if r.completed[nodeID] {
		r.warn(nodeID, "not_pending", map[string]interface{}{"completed": true})
		return r.finish(ctx, before)
	}
	if idx < 0 {
		r.warn(nodeID, "not_pending", map[string]interface{}{"completed": false})
	}

	r.emit(nodeID, "task_completed", map[string]interface{}{
		"type":         string(n.Type),
		"completed_by": opts.CompletedBy,
	})
	r.markCompleted(n)
	r.visitSuccessors(nodeID)
	r.advanceSequences(nodeID)
	return r.finish(ctx, before)
}

// RestoreState replaces the runner's state with snap without visiting any
// node or recomputing anything. Pending entries lacking display attributes
// are filled in from the template.
func (r *Runner) RestoreState(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.pending)
	r.reset()
	r.started = true
	if snap.InstanceID != "" {
		r.cfg.instanceID = snap.InstanceID
	}
	r.step = snap.Step
	r.lastNode = snap.LastNode
	for _, id := range snap.Completed {
		if !r.completed[id] {
			r.completed[id] = true
			r.order = append(r.order, id)
		}
	}
	for _, task := range snap.Pending {
		if r.pendingIndex(task.NodeID) >= 0 {
			continue
		}
		if n, ok := r.ix.Node(task.NodeID); ok {
			if task.Name == "" {
				task.Name = n.Name
			}
			if task.Role == "" {
				task.Role = n.Role
			}
			if task.Type == "" {
				task.Type = n.Type
			}
		}
		r.pending = append(r.pending, task)
	}
	if vars := cloneMap(snap.Context); vars != nil {
		r.vars = vars
	}
	for _, b := range snap.Branches {
		r.activateBranch(b)
	}
	for k, v := range snap.Sequences {
		r.sequences[k] = v
	}
	r.finished = snap.Finished

	r.cfg.metrics.AddPendingTasks(r.ix.TemplateID(), len(r.pending)-before)
	r.emit("", "instance_restored", map[string]interface{}{"pending": len(r.pending)})
}

// PendingTasks returns a copy of the pending task list.
func (r *Runner) PendingTasks() []PendingTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingCopy()
}

// Snapshot returns a deep copy of the full execution state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Finished reports whether the instance has finished.
func (r *Runner) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Context returns a deep copy of the instance context.
func (r *Runner) Context() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMap(r.vars)
}

// IsCompleted reports whether nodeID has completed.
func (r *Runner) IsCompleted(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed[nodeID]
}

// visit applies the idempotency gate, the join gate and the per-type
// behavior of node id.
func (r *Runner) visit(id string) {
	if r.completed[id] {
		return
	}
	n, ok := r.ix.Node(id)
	if !ok {
		r.warn(id, "missing_node", nil)
		return
	}

	if n.Join() == JoinAll {
		var waiting []string
		for _, p := range r.ix.Incoming(id) {
			if !r.completed[p.ID] {
				waiting = append(waiting, p.ID)
			}
		}
		if len(waiting) > 0 {
			r.emit(id, "join_waiting", map[string]interface{}{"waiting_for": waiting})
			return
		}
	}

	switch n.Type {
	case NodeStart, NodeCondition, NodeParallel:
		r.markCompleted(n)
		r.fanOut(n)
		r.advanceSequences(id)
	case NodeTask, NodeApproval:
		if r.pendingIndex(id) >= 0 {
			return
		}
		r.pending = append(r.pending, PendingTask{NodeID: n.ID, Name: n.Name, Role: n.Role, Type: n.Type})
		r.emit(id, "task_created", map[string]interface{}{"role": n.Role, "type": string(n.Type)})
		r.cfg.metrics.IncTasksCreated(r.ix.TemplateID(), n.Type)
	case NodeEnd:
		r.markCompleted(n)
		r.advanceSequences(id)
	}
}

func (r *Runner) markCompleted(n Node) {
	if r.completed[n.ID] {
		return
	}
	r.completed[n.ID] = true
	r.order = append(r.order, n.ID)
	meta := map[string]interface{}{"type": string(n.Type)}
	if n.Branch != "" {
		meta["branch"] = n.Branch
	}
	r.emit(n.ID, "node_completed", meta)
}

// fanOut follows the outgoing transitions of n according to its split
// mode.
func (r *Runner) fanOut(n Node) {
	if n.Split() == SplitSequential {
		r.sequences[n.ID] = SequenceCursor{}
		r.advanceSequence(n.ID)
		return
	}
	for _, t := range r.ix.Outgoing(n.ID) {
		if r.take(t) {
			r.visit(t.To)
		}
	}
}

// visitSuccessors visits every known target of id's outgoing transitions.
// Guards, branch tags and split mode are not consulted; those belong to
// the routing nodes.
func (r *Runner) visitSuccessors(id string) {
	for _, t := range r.ix.Outgoing(id) {
		if _, ok := r.ix.Node(t.To); !ok {
			r.warn(id, "missing_node", map[string]interface{}{"to": t.To})
			r.cfg.metrics.IncSkippedTransitions("missing_node")
			continue
		}
		r.visit(t.To)
	}
}

// take decides whether t is followed and records its branch tag if so.
func (r *Runner) take(t Transition) bool {
	if _, ok := r.ix.Node(t.To); !ok {
		r.warn(t.From, "missing_node", map[string]interface{}{"to": t.To})
		r.cfg.metrics.IncSkippedTransitions("missing_node")
		return false
	}

	if t.Guarded() {
		pass, err := r.ix.CheckGuard(t.ConditionExpression, r.vars)
		switch {
		case err != nil:
			r.warn(t.From, "guard_error", map[string]interface{}{
				"to":         t.To,
				"expression": t.ConditionExpression,
				"error":      err.Error(),
			})
			r.cfg.metrics.IncGuardEvaluations("error")
			r.cfg.metrics.IncSkippedTransitions("guard")
			return false
		case !pass:
			r.emit(t.From, "transition_skipped", map[string]interface{}{
				"to":         t.To,
				"expression": t.ConditionExpression,
			})
			r.cfg.metrics.IncGuardEvaluations("fail")
			r.cfg.metrics.IncSkippedTransitions("guard")
			return false
		}
		r.cfg.metrics.IncGuardEvaluations("pass")
	}

	if t.Branch != "" {
		r.activateBranch(t.Branch)
	}
	return true
}

func (r *Runner) activateBranch(b string) {
	if b == "" || r.branches[b] {
		return
	}
	r.branches[b] = true
	r.branchOrder = append(r.branchOrder, b)
}

// sequenceTransitions returns the outgoing transitions of a sequential
// split sorted by Order, ties kept in declaration order.
func (r *Runner) sequenceTransitions(splitID string) []Transition {
	ts := r.ix.Outgoing(splitID)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Order < ts[j].Order })
	return ts
}

// advanceSequence fires the next passing transition of a sequential split
// and parks the cursor on its target.
func (r *Runner) advanceSequence(splitID string) {
	cur := r.sequences[splitID]
	ts := r.sequenceTransitions(splitID)
	for cur.Next < len(ts) {
		t := ts[cur.Next]
		cur.Next++
		if !r.take(t) || r.completed[t.To] {
			continue
		}
		cur.Awaiting = t.To
		r.sequences[splitID] = cur
		// Visiting may complete the target immediately, which re-enters
		// advanceSequences with the cursor just stored.
		r.visit(t.To)
		return
	}
	cur.Awaiting = ""
	r.sequences[splitID] = cur
}

// advanceSequences moves every cursor that was waiting for completedID.
func (r *Runner) advanceSequences(completedID string) {
	var splits []string
	for id, cur := range r.sequences {
		if cur.Awaiting == completedID {
			splits = append(splits, id)
		}
	}
	sort.Strings(splits)
	for _, id := range splits {
		if r.sequences[id].Awaiting == completedID {
			r.advanceSequence(id)
		}
	}
}

// finish recomputes the finished flag, persists the snapshot and returns
// the pending tasks.
func (r *Runner) finish(ctx context.Context, pendingBefore int) ([]PendingTask, error) {
	was := r.finished
	r.finished = r.computeFinished()
	tpl := r.ix.TemplateID()

	switch {
	case r.finished && !was:
		r.emit("", "instance_finished", map[string]interface{}{"completed": len(r.order)})
		r.cfg.metrics.IncInstancesFinished(tpl)
	case !r.finished && len(r.pending) == 0:
		r.warn("", "instance_stalled", map[string]interface{}{"branches": append([]string(nil), r.branchOrder...)})
		r.cfg.metrics.IncInstancesStalled(tpl)
	}
	r.cfg.metrics.AddPendingTasks(tpl, len(r.pending)-pendingBefore)

	if r.cfg.hook != nil {
		begin := time.Now()
		err := r.cfg.hook(ctx, r.snapshotLocked())
		status := "success"
		if err != nil {
			status = "error"
		}
		r.cfg.metrics.RecordPersistLatency(time.Since(begin), status)
		if err != nil {
			r.emit("", "persist_failed", map[string]interface{}{"level": emit.LevelError, "error": err.Error()})
			return nil, &EngineError{Message: "persist snapshot", Code: CodePersistFailed, Cause: err}
		}
	}
	return r.pendingCopy(), nil
}

// computeFinished: nothing pending, at least one end node completed, and
// every end node of every active branch completed.
func (r *Runner) computeFinished() bool {
	if len(r.pending) > 0 {
		return false
	}
	endReached := false
	for _, id := range r.order {
		if n, ok := r.ix.Node(id); ok && n.Type == NodeEnd {
			endReached = true
			break
		}
	}
	if !endReached {
		return false
	}
	for _, b := range r.branchOrder {
		for _, end := range r.ix.EndNodes(b) {
			if !r.completed[end.ID] {
				return false
			}
		}
	}
	return true
}

func (r *Runner) pendingIndex(nodeID string) int {
	for i, p := range r.pending {
		if p.NodeID == nodeID {
			return i
		}
	}
	return -1
}

func (r *Runner) pendingCopy() []PendingTask {
	return append([]PendingTask{}, r.pending...)
}

func (r *Runner) snapshotLocked() Snapshot {
	snap := Snapshot{
		InstanceID: r.cfg.instanceID,
		Step:       r.step,
		LastNode:   r.lastNode,
		Completed:  append([]string{}, r.order...),
		Pending:    r.pendingCopy(),
		Context:    cloneMap(r.vars),
		Finished:   r.finished,
		Branches:   append([]string(nil), r.branchOrder...),
	}
	if len(r.sequences) > 0 {
		snap.Sequences = make(map[string]SequenceCursor, len(r.sequences))
		for k, v := range r.sequences {
			snap.Sequences[k] = v
		}
	}
	return snap
}

func (r *Runner) emit(nodeID, msg string, meta map[string]interface{}) {
	r.cfg.emitter.Emit(emit.Event{
		InstanceID: r.cfg.instanceID,
		Step:       r.step,
		NodeID:     nodeID,
		Msg:        msg,
		Meta:       meta,
	})
}

func (r *Runner) warn(nodeID, msg string, meta map[string]interface{}) {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["level"] = emit.LevelWarn
	r.emit(nodeID, msg, meta)
}
