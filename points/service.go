/*
service.go - Entry points used by the chore app and the admin UI

PURPOSE:
  Bundles the ledger components behind one type so collaborators never wire
  them by hand:

  Inbound (writes)
    AwardForTaskCompletion   chore done -> pending earned entry + bonus check
    Approve / Reject         admin decision
    UpdateAmount             admin edits a pending entry
    ManuallyAdjust           admin correction, approved immediately

  Outbound (reads)
    GetHistory, GetBalance, GetStats, GetGroupRanking

  Maintenance
    Reconcile, CheckBonuses, rule CRUD, task stats ingestion

SEE ALSO:
  - approval.go: Transition rules
  - rules.go: Bonus evaluation
*/
package points

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tune a Service. Zero values fall back to sensible defaults.
type Options struct {
	Logger       *zap.Logger
	Clock        func() time.Time
	Notifier     Notifier
	Recorder     Recorder
	MaxRetries   *int // nil = DefaultMaxRetries; 0 disables retries
	PersistRanks bool
	NewID        func() EntryID
}

// Service is the points ledger as seen by its collaborators.
type Service struct {
	Ledger    *Ledger
	Approvals *Approvals
	Stats     *Aggregator
	Bonuses   *BonusEngine
	Ranking   *RankCalculator

	backend Backend
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService wires every component to backend.
func NewService(backend Backend, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	ledger := NewLedger(backend)
	ledger.clock = opts.Clock
	ledger.recorder = opts.Recorder
	if opts.NewID != nil {
		ledger.newID = opts.NewID
	}

	approvals := NewApprovals(backend)
	approvals.clock = opts.Clock
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		approvals.maxRetries = *opts.MaxRetries
	}
	approvals.notifier = opts.Notifier
	approvals.recorder = opts.Recorder
	approvals.logger = opts.Logger.Named("approvals")

	stats := NewAggregator(backend, backend)
	stats.clock = opts.Clock
	stats.logger = opts.Logger.Named("stats")

	bonuses := NewBonusEngine(backend, stats, ledger)
	bonuses.clock = opts.Clock
	bonuses.recorder = opts.Recorder
	bonuses.logger = opts.Logger.Named("bonus")

	ranking := NewRankCalculator(backend, opts.PersistRanks)
	ranking.logger = opts.Logger.Named("ranking")

	return &Service{
		Ledger:    ledger,
		Approvals: approvals,
		Stats:     stats,
		Bonuses:   bonuses,
		Ranking:   ranking,
		backend:   backend,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// =============================================================================
// INBOUND
// =============================================================================

// TaskCompletion is reported by the chore subsystem when a task is done.
type TaskCompletion struct {
	UserID    UserID
	GroupID   GroupID
	TaskID    string
	TaskTitle string
	Points    int64

	// CompletionID identifies this particular completion. When set, a
	// repeated report of the same completion is rejected as a duplicate.
	CompletionID string
}

// AwardForTaskCompletion records a pending earned entry and then runs the
// bonus rules. Bonus failures are logged and never returned.
func (s *Service) AwardForTaskCompletion(ctx context.Context, c TaskCompletion) (Entry, error) {
	if c.TaskID == "" {
		return Entry{}, &ValidationError{Field: "task_id", Message: "required"}
	}
	title := strings.TrimSpace(c.TaskTitle)
	if title == "" {
		title = c.TaskID
	}

	e := Entry{
		UserID:    c.UserID,
		GroupID:   c.GroupID,
		Type:      TypeEarned,
		Amount:    c.Points,
		Reason:    "Task completed: " + title,
		TaskID:    c.TaskID,
		CreatedBy: string(c.UserID),
	}
	if c.CompletionID != "" {
		e.IdempotencyKey = "task:" + string(c.GroupID) + ":" + c.CompletionID
	}

	id, err := s.Ledger.Append(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	created, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}

	if _, err := s.Bonuses.CheckAndAward(ctx, c.UserID, c.GroupID); err != nil {
		s.logger.Error("bonus check failed",
			zap.String("user_id", string(c.UserID)),
			zap.String("group_id", string(c.GroupID)),
			zap.Error(err),
		)
	}
	return created, nil
}

func (s *Service) Approve(ctx context.Context, id EntryID, approverID string) (Entry, error) {
	return s.Approvals.Approve(ctx, id, approverID)
}

func (s *Service) Reject(ctx context.Context, id EntryID, approverID string) (Entry, error) {
	return s.Approvals.Reject(ctx, id, approverID)
}

func (s *Service) UpdateAmount(ctx context.Context, id EntryID, amount int64) (Entry, error) {
	return s.Approvals.UpdateAmount(ctx, id, amount)
}

// ManualAdjustment is an admin correction. Amount is signed: positive adds
// points, negative removes them.
type ManualAdjustment struct {
	UserID  UserID
	GroupID GroupID
	Amount  int64
	Reason  string
	AdminID string
}

// ManuallyAdjust inserts a manual entry and approves it in the same
// transaction, through the same transition as Approve. No pending entry is
// ever visible.
func (s *Service) ManuallyAdjust(ctx context.Context, m ManualAdjustment) (Entry, error) {
	if m.Amount == 0 {
		return Entry{}, &ValidationError{Field: "amount", Message: "must not be zero"}
	}
	if m.AdminID == "" {
		return Entry{}, &ValidationError{Field: "admin_id", Message: "required"}
	}

	typ, magnitude := TypeManualAdd, m.Amount
	if m.Amount < 0 {
		typ, magnitude = TypeManualDeduct, -m.Amount
	}

	e, err := s.Ledger.prepare(Entry{
		UserID:    m.UserID,
		GroupID:   m.GroupID,
		Type:      typ,
		Amount:    magnitude,
		Reason:    m.Reason,
		CreatedBy: m.AdminID,
	})
	if err != nil {
		return Entry{}, err
	}

	start := time.Now()
	var (
		decided Entry
		balance *Balance
	)
	err = s.Approvals.withRetry(ctx, e.ID, func(st Store) error {
		if err := st.InsertEntry(ctx, e); err != nil {
			return err
		}
		d, b, err := s.Approvals.transition(ctx, st, e.ID, m.AdminID, StateApproved)
		if err != nil {
			return err
		}
		decided, balance = d, b
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	s.Ledger.recorder.EntryAppended(typ)
	s.Approvals.committed(ctx, decided, balance, start)
	return decided, nil
}

// =============================================================================
// OUTBOUND
// =============================================================================

// GetHistory returns entries for a user in a group, newest first.
func (s *Service) GetHistory(ctx context.Context, userID UserID, groupID GroupID, state *ApprovalState, limit int) ([]Entry, error) {
	return s.Ledger.List(ctx, EntryFilter{
		UserID:      userID,
		GroupID:     groupID,
		State:       state,
		Limit:       limit,
		NewestFirst: true,
	})
}

// GetBalance returns the cached balance, or a NotFoundError if the user has
// never had an entry approved in the group.
func (s *Service) GetBalance(ctx context.Context, userID UserID, groupID GroupID) (Balance, error) {
	return s.backend.GetBalance(ctx, userID, groupID)
}

func (s *Service) GetStats(ctx context.Context, userID UserID, groupID GroupID) (Stats, error) {
	return s.Stats.Snapshot(ctx, userID, groupID)
}

func (s *Service) GetGroupRanking(ctx context.Context, groupID GroupID) ([]Balance, error) {
	return s.Ranking.GroupRanking(ctx, groupID)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func (s *Service) Reconcile(ctx context.Context, userID UserID, groupID GroupID) (ReconcileReport, error) {
	return s.Stats.Reconcile(ctx, userID, groupID)
}

func (s *Service) CheckBonuses(ctx context.Context, userID UserID, groupID GroupID) ([]Entry, error) {
	return s.Bonuses.CheckAndAward(ctx, userID, groupID)
}

// SaveRule validates and stores a rule, assigning an ID to new rules. An
// existing ID is only replaced within its own group; a rule stored under
// another group is reported as not found.
func (s *Service) SaveRule(ctx context.Context, r Rule) (Rule, error) {
	if r.Period == "" {
		r.Period = PeriodDaily
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	if r.ID == "" {
		r.ID = RuleID(uuid.NewString())
	} else {
		existing, err := s.backend.GetRule(ctx, r.ID)
		switch {
		case err == nil && existing.GroupID != r.GroupID:
			return Rule{}, RuleNotFound(r.ID)
		case err != nil && !IsNotFound(err):
			return Rule{}, err
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock()
	}
	if err := s.backend.SaveRule(ctx, r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context, groupID GroupID, activeOnly bool) ([]Rule, error) {
	return s.backend.ListRules(ctx, groupID, activeOnly)
}

// DeleteRule removes one of the group's rules.
func (s *Service) DeleteRule(ctx context.Context, groupID GroupID, id RuleID) error {
	if _, err := s.groupRule(ctx, id, groupID); err != nil {
		return err
	}
	return s.backend.DeleteRule(ctx, id)
}

// groupRule loads a rule and hides it from every group but its own.
func (s *Service) groupRule(ctx context.Context, id RuleID, groupID GroupID) (Rule, error) {
	r, err := s.backend.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if r.GroupID != groupID {
		return Rule{}, RuleNotFound(id)
	}
	return r, nil
}

// SaveTaskStats stores the chore subsystem's latest streak/completion data.
func (s *Service) SaveTaskStats(ctx context.Context, userID UserID, groupID GroupID, ts TaskStats) error {
	switch {
	case userID == "":
		return &ValidationError{Field: "user_id", Message: "required"}
	case groupID == "":
		return &ValidationError{Field: "group_id", Message: "required"}
	case ts.CurrentStreak < 0:
		return &ValidationError{Field: "current_streak", Message: "must not be negative"}
	case ts.TasksCompleted < 0:
		return &ValidationError{Field: "tasks_completed", Message: "must not be negative"}
	case ts.CompletionRate.IsNegative() || ts.CompletionRate.GreaterThan(decimalOne):
		return &ValidationError{Field: "completion_rate", Message: "must be within [0, 1]"}
	}
	if ts.UpdatedAt.IsZero() {
		ts.UpdatedAt = s.clock()
	}
	return s.backend.SaveTaskStats(ctx, userID, groupID, ts)
}
