package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/approvalflow/graph"
	"github.com/dshills/approvalflow/graph/emit"
	"github.com/dshills/approvalflow/graph/store"
)

// Option configures a Service.
type Option func(*Service) error

// WithEmitter sends runner and service events to emitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(s *Service) error {
		if emitter == nil {
			return fmt.Errorf("%w: emitter cannot be nil", ErrInvalidRequest)
		}
		s.emitter = emitter
		return nil
	}
}

// WithMetrics records runner activity in metrics.
func WithMetrics(metrics *graph.PrometheusMetrics) Option {
	return func(s *Service) error {
		s.metrics = metrics
		return nil
	}
}

// WithLogger logs service operations to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidRequest)
		}
		s.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidRequest)
		}
		s.now = now
		return nil
	}
}

// Service manages approval instances.
//
// Decisions on the same instance are serialized; different instances
// proceed independently. Every change is written to the store as a new
// revision before the call returns.
type Service struct {
	catalog *graph.Catalog
	store   store.Store[Record]
	emitter emit.Emitter
	metrics *graph.PrometheusMetrics
	logger  *zap.Logger
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*instanceLock
}

// instanceLock is removed from Service.locks once refs drops to zero.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a service resolving templates through catalog and
// persisting instances in st.
func NewService(catalog *graph.Catalog, st store.Store[Record], opts ...Option) (*Service, error) {
	if catalog == nil || st == nil {
		return nil, fmt.Errorf("%w: catalog and store are required", ErrInvalidRequest)
	}
	s := &Service{
		catalog: catalog,
		store:   st,
		emitter: emit.NewNullEmitter(),
		logger:  zap.NewNop(),
		now:     time.Now,
		locks:   make(map[string]*instanceLock),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) lock(instanceID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[instanceID]
	if !ok {
		l = &instanceLock{}
		s.locks[instanceID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, instanceID)
		}
		s.locksMu.Unlock()
	}
}

// Start creates an instance of req.TemplateID and runs it up to its first
// pending tasks. An instance whose graph finishes immediately is APPROVED
// right away.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrInvalidRequest)
	}
	ix, err := s.catalog.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inst := &Instance{
		ID:          uuid.NewString(),
		TemplateID:  req.TemplateID,
		BusinessKey: req.BusinessKey,
		StartedBy:   req.StartedBy,
		Status:      StatusRunning,
		CreatedAt:   now,
	}
	defer s.lock(inst.ID)()

	action := Action{Action: actionStart, ActedBy: req.StartedBy}
	r, err := s.runner(ix, inst, &action)
	if err != nil {
		return nil, err
	}
	if _, err := r.Start(ctx, req.Context); err != nil {
		return nil, fmt.Errorf("start instance of %s: %w", req.TemplateID, err)
	}

	s.logger.Info("instance started",
		zap.String("instance_id", inst.ID),
		zap.String("template", inst.TemplateID),
		zap.String("business_key", inst.BusinessKey),
		zap.Int("pending", len(inst.Snapshot.Pending)),
		zap.String("status", string(inst.Status)),
	)
	return inst, nil
}

// Decide applies an APPROVE or REJECT decision to a pending task.
//
// APPROVE completes the task with req.ContextUpdate and advances the
// graph; the instance becomes APPROVED when the graph finishes. REJECT
// closes the instance as REJECTED and records the other pending tasks as
// skipped.
func (s *Service) Decide(ctx context.Context, req DecisionRequest) (*Instance, error) {
	switch {
	case req.InstanceID == "":
		return nil, fmt.Errorf("%w: instance id is required", ErrInvalidRequest)
	case req.NodeID == "":
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidRequest)
	case !req.Decision.Valid():
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidRequest, req.Decision)
	}
	defer s.lock(req.InstanceID)()

	inst, err := s.load(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceClosed, inst.ID, inst.Status)
	}
	if !isPending(inst.Snapshot.Pending, req.NodeID) {
		return nil, fmt.Errorf("%w: %s in instance %s", ErrTaskNotPending, req.NodeID, inst.ID)
	}

	action := Action{
		Action:  string(req.Decision),
		NodeID:  req.NodeID,
		ActedBy: req.ActedBy,
		Comment: req.Comment,
	}
	if req.Decision == Reject {
		return s.reject(ctx, inst, action)
	}

	ix, err := s.catalog.Get(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}
	r, err := s.runner(ix, inst, &action)
	if err != nil {
		return nil, err
	}
	r.RestoreState(inst.Snapshot)

	if _, err := r.CompleteTask(ctx, req.NodeID, graph.CompleteOptions{
		CompletedBy:   req.ActedBy,
		ContextUpdate: req.ContextUpdate,
	}); err != nil {
		return nil, fmt.Errorf("approve %s: %w", req.NodeID, err)
	}

	s.logger.Info("task approved",
		zap.String("instance_id", inst.ID),
		zap.String("node_id", req.NodeID),
		zap.String("acted_by", req.ActedBy),
		zap.String("status", string(inst.Status)),
	)
	return inst, nil
}

func (s *Service) reject(ctx context.Context, inst *Instance, action Action) (*Instance, error) {
	inst.Skipped = nil
	for _, p := range inst.Snapshot.Pending {
		if p.NodeID != action.NodeID {
			inst.Skipped = append(inst.Skipped, p.NodeID)
		}
	}
	inst.Status = StatusRejected
	inst.Revision++
	inst.UpdatedAt = s.now()

	action.Revision = inst.Revision
	action.Status = inst.Status
	action.At = inst.UpdatedAt
	stored := *inst
	stored.Snapshot = inst.Snapshot.Clone()
	if err := s.store.SaveStep(ctx, inst.ID, inst.Revision, action.NodeID, Record{Instance: stored, Action: action}); err != nil {
		return nil, fmt.Errorf("persist rejection of %s: %w", inst.ID, err)
	}

	s.emitter.Emit(emit.Event{
		InstanceID: inst.ID,
		Step:       inst.Snapshot.Step,
		NodeID:     action.NodeID,
		Msg:        "instance_rejected",
		Meta: map[string]interface{}{
			"acted_by": action.ActedBy,
			"skipped":  append([]string(nil), inst.Skipped...),
		},
	})
	s.logger.Info("instance rejected",
		zap.String("instance_id", inst.ID),
		zap.String("node_id", action.NodeID),
		zap.String("acted_by", action.ActedBy),
		zap.Strings("skipped", inst.Skipped),
	)
	return inst, nil
}

// runner builds a graph runner whose persistence hook stores inst, updated
// from each snapshot, as a new revision carrying action.
func (s *Service) runner(ix *graph.Index, inst *Instance, action *Action) (*graph.Runner, error) {
	hook := func(ctx context.Context, snap graph.Snapshot) error {
		next := *inst
		next.Snapshot = snap
		next.Revision = snap.Step
		next.UpdatedAt = s.now()
		if snap.Finished {
			next.Status = StatusApproved
		}

		entry := *action
		entry.Revision = next.Revision
		entry.Status = next.Status
		entry.At = next.UpdatedAt
		if entry.NodeID == "" {
			entry.NodeID = snap.LastNode
		}

		if err := s.store.SaveStep(ctx, next.ID, next.Revision, entry.NodeID, Record{Instance: next, Action: entry}); err != nil {
			return err
		}
		next.Snapshot = snap.Clone()
		*inst = next
		return nil
	}

	opts := []graph.Option{
		graph.WithInstanceID(inst.ID),
		graph.WithEmitter(s.emitter),
		graph.WithPersistHook(hook),
	}
	if s.metrics != nil {
		opts = append(opts, graph.WithMetrics(s.metrics))
	}
	return graph.NewRunner(ix, opts...)
}

func (s *Service) load(ctx context.Context, instanceID string) (*Instance, error) {
	rec, _, err := s.store.LoadLatest(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	inst := rec.Instance
	inst.Snapshot = inst.Snapshot.Clone()
	inst.Skipped = append([]string(nil), inst.Skipped...)
	return &inst, nil
}

// Get returns the latest revision of an instance.
func (s *Service) Get(ctx context.Context, instanceID string) (*Instance, error) {
	return s.load(ctx, instanceID)
}

// History returns the audit trail of an instance, oldest first.
func (s *Service) History(ctx context.Context, instanceID string) ([]Action, error) {
	records, err := s.store.History(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("history of %s: %w", instanceID, err)
	}
	actions := make([]Action, 0, len(records))
	for _, rec := range records {
		actions = append(actions, rec.State.Action)
	}
	return actions, nil
}

// PendingForRoles returns the open tasks of an instance assigned to any of
// roles. With no roles every open task is returned.
func (s *Service) PendingForRoles(ctx context.Context, instanceID string, roles ...string) ([]graph.PendingTask, error) {
	inst, err := s.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	pending := inst.Pending()
	if len(roles) == 0 {
		return pending, nil
	}

	want := make(map[string]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	out := []graph.PendingTask{}
	for _, p := range pending {
		if want[p.Role] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Instances lists the IDs of every stored instance.
func (s *Service) Instances(ctx context.Context) ([]string, error) {
	return s.store.Instances(ctx)
}

func isPending(pending []graph.PendingTask, nodeID string) bool {
	for _, p := range pending {
		if p.NodeID == nodeID {
			return true
		}
	}
	return false
}
