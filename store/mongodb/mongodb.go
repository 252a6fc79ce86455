/*
Package mongodb provides a MongoDB-backed implementation of points.Backend.

PURPOSE:
  Alternative to SQLite for deployments that already run MongoDB. The same
  guarantees hold: unique idempotency keys, version-guarded entry updates,
  and WithTx over a multi-document transaction.

COLLECTIONS:
  entries:    One document per entry, _id = entry ID
  balances:   One document per (user_id, group_id)
  rules:      One document per rule, _id = rule ID
  task_stats: One document per (user_id, group_id)

REQUIREMENTS:
  Multi-document transactions need a replica set (a single-node replica set
  is enough for development).

SEE ALSO:
  - store/sqlite/sqlite.go: Default backend with the same semantics
*/
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/warp/points-ledger/points"
)

// Compile-time check to ensure Store implements the interface
var _ points.Backend = (*Store)(nil)

// Store implements points.Backend on MongoDB.
type Store struct {
	client    *mongo.Client
	entries   *mongo.Collection
	balances  *mongo.Collection
	rules     *mongo.Collection
	taskStats *mongo.Collection
}

// New connects to uri, checks the connection and ensures indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		entries:   db.Collection("entries"),
		balances:  db.Collection("balances"),
		rules:     db.Collection("rules"),
		taskStats: db.Collection("task_stats"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create entry indexes: %w", err)
	}

	pair := mongo.IndexModel{
		Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.balances.Indexes().CreateOne(ctx, pair); err != nil {
		return fmt.Errorf("failed to create balance index: %w", err)
	}
	if _, err := s.taskStats.Indexes().CreateOne(ctx, pair); err != nil {
		return fmt.Errorf("failed to create task stats index: %w", err)
	}
	_, err = s.rules.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "is_active", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create rule index: %w", err)
	}
	return nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type entryDoc struct {
	ID             string     `bson:"_id"`
	UserID         string     `bson:"user_id"`
	GroupID        string     `bson:"group_id"`
	Type           string     `bson:"entry_type"`
	Amount         int64      `bson:"amount"`
	Reason         string     `bson:"reason"`
	Description    string     `bson:"description,omitempty"`
	TaskID         string     `bson:"task_id,omitempty"`
	RuleID         string     `bson:"rule_id,omitempty"`
	IdempotencyKey string     `bson:"idempotency_key,omitempty"`
	State          string     `bson:"state"`
	ApprovedBy     string     `bson:"approved_by,omitempty"`
	ApprovedAt     *time.Time `bson:"approved_at,omitempty"`
	CreatedBy      string     `bson:"created_by,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	Version        int64      `bson:"version"`
}

func toEntryDoc(e points.Entry) entryDoc {
	return entryDoc{
		ID:             string(e.ID),
		UserID:         string(e.UserID),
		GroupID:        string(e.GroupID),
		Type:           string(e.Type),
		Amount:         e.Amount,
		Reason:         e.Reason,
		Description:    e.Description,
		TaskID:         e.TaskID,
		RuleID:         string(e.RuleID),
		IdempotencyKey: e.IdempotencyKey,
		State:          string(e.State),
		ApprovedBy:     e.ApprovedBy,
		ApprovedAt:     e.ApprovedAt,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt,
		Version:        e.Version,
	}
}

func (d entryDoc) entry() points.Entry {
	e := points.Entry{
		ID:             points.EntryID(d.ID),
		UserID:         points.UserID(d.UserID),
		GroupID:        points.GroupID(d.GroupID),
		Type:           points.EntryType(d.Type),
		Amount:         d.Amount,
		Reason:         d.Reason,
		Description:    d.Description,
		TaskID:         d.TaskID,
		RuleID:         points.RuleID(d.RuleID),
		IdempotencyKey: d.IdempotencyKey,
		State:          points.ApprovalState(d.State),
		ApprovedBy:     d.ApprovedBy,
		CreatedBy:      d.CreatedBy,
		CreatedAt:      d.CreatedAt.UTC(),
		Version:        d.Version,
	}
	if d.ApprovedAt != nil {
		t := d.ApprovedAt.UTC()
		e.ApprovedAt = &t
	}
	return e
}

type balanceDoc struct {
	UserID         string    `bson:"user_id"`
	GroupID        string    `bson:"group_id"`
	TotalPoints    int64     `bson:"total_points"`
	EarnedPoints   int64     `bson:"earned_points"`
	DeductedPoints int64     `bson:"deducted_points"`
	BonusPoints    int64     `bson:"bonus_points"`
	LastUpdated    time.Time `bson:"last_updated"`
	Rank           int       `bson:"rank"`
	TotalMembers   int       `bson:"total_members"`
}

func (d balanceDoc) balance() points.Balance {
	return points.Balance{
		UserID:         points.UserID(d.UserID),
		GroupID:        points.GroupID(d.GroupID),
		TotalPoints:    d.TotalPoints,
		EarnedPoints:   d.EarnedPoints,
		DeductedPoints: d.DeductedPoints,
		BonusPoints:    d.BonusPoints,
		LastUpdated:    d.LastUpdated.UTC(),
		Rank:           d.Rank,
		TotalMembers:   d.TotalMembers,
	}
}

type ruleDoc struct {
	ID                string    `bson:"_id"`
	GroupID           string    `bson:"group_id"`
	Name              string    `bson:"name"`
	Type              string    `bson:"rule_type"`
	Points            int64     `bson:"points"`
	MinStreak         *int      `bson:"min_streak,omitempty"`
	MinCompletionRate *string   `bson:"min_completion_rate,omitempty"`
	MinTasks          *int      `bson:"min_tasks,omitempty"`
	Period            string    `bson:"period"`
	IsActive          bool      `bson:"is_active"`
	CreatedAt         time.Time `bson:"created_at"`
}

func (d ruleDoc) rule() (points.Rule, error) {
	r := points.Rule{
		ID:        points.RuleID(d.ID),
		GroupID:   points.GroupID(d.GroupID),
		Name:      d.Name,
		Type:      points.RuleType(d.Type),
		Points:    d.Points,
		Period:    points.EvaluationPeriod(d.Period),
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt.UTC(),
		Conditions: points.RuleConditions{
			MinStreak: d.MinStreak,
			MinTasks:  d.MinTasks,
		},
	}
	if d.MinCompletionRate != nil {
		rate, err := decimal.NewFromString(*d.MinCompletionRate)
		if err != nil {
			return points.Rule{}, fmt.Errorf("rule %s: bad min_completion_rate: %w", d.ID, err)
		}
		r.Conditions.MinCompletionRate = &rate
	}
	return r, nil
}

type taskStatsDoc struct {
	UserID         string    `bson:"user_id"`
	GroupID        string    `bson:"group_id"`
	CurrentStreak  int       `bson:"current_streak"`
	CompletionRate string    `bson:"completion_rate"`
	TasksCompleted int       `bson:"tasks_completed"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func pairFilter(userID points.UserID, groupID points.GroupID) bson.M {
	return bson.M{"user_id": string(userID), "group_id": string(groupID)}
}

// =============================================================================
// ENTRY AND BALANCE OPERATIONS
// =============================================================================
// Each operation takes the context it runs under; inside WithTx that is the
// session context carrying the transaction.

func (s *Store) InsertEntry(ctx context.Context, e points.Entry) error {
	_, err := s.entries.InsertOne(ctx, toEntryDoc(e))
	if mongo.IsDuplicateKeyError(err) {
		return points.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id points.EntryID) (points.Entry, error) {
	var d entryDoc
	err := s.entries.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return points.Entry{}, points.EntryNotFound(id)
	}
	if err != nil {
		return points.Entry{}, err
	}
	return d.entry(), nil
}

func (s *Store) UpdateEntry(ctx context.Context, e points.Entry, expectedVersion int64) error {
	set := bson.M{
		"amount":  e.Amount,
		"state":   string(e.State),
		"version": e.Version,
	}
	unset := bson.M{}
	setOrUnset(set, unset, "description", e.Description)
	setOrUnset(set, unset, "approved_by", e.ApprovedBy)
	if e.ApprovedAt != nil {
		set["approved_at"] = *e.ApprovedAt
	} else {
		unset["approved_at"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := s.entries.UpdateOne(ctx,
		bson.M{"_id": string(e.ID), "version": expectedVersion},
		update,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.entries.CountDocuments(ctx, bson.M{"_id": string(e.ID)})
	if err != nil {
		return err
	}
	if n == 0 {
		return points.EntryNotFound(e.ID)
	}
	return points.ErrConflict
}

func setOrUnset(set, unset bson.M, key, value string) {
	if value == "" {
		unset[key] = ""
		return
	}
	set[key] = value
}

func (s *Store) ListEntries(ctx context.Context, f points.EntryFilter) ([]points.Entry, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = string(f.UserID)
	}
	if f.GroupID != "" {
		filter["group_id"] = string(f.GroupID)
	}
	if f.State != nil {
		filter["state"] = string(*f.State)
	}

	order := 1
	if f.NewestFirst {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: order}, {Key: "_id", Value: order}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.entries.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	entries := make([]points.Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.entry())
	}
	return entries, nil
}

func (s *Store) GetBalance(ctx context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	var d balanceDoc
	err := s.balances.FindOne(ctx, pairFilter(userID, groupID)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return points.Balance{}, points.BalanceNotFound(userID, groupID)
	}
	if err != nil {
		return points.Balance{}, err
	}
	return d.balance(), nil
}

func (s *Store) PutBalance(ctx context.Context, b points.Balance) error {
	d := balanceDoc{
		UserID:         string(b.UserID),
		GroupID:        string(b.GroupID),
		TotalPoints:    b.TotalPoints,
		EarnedPoints:   b.EarnedPoints,
		DeductedPoints: b.DeductedPoints,
		BonusPoints:    b.BonusPoints,
		LastUpdated:    b.LastUpdated,
		Rank:           b.Rank,
		TotalMembers:   b.TotalMembers,
	}
	_, err := s.balances.ReplaceOne(ctx, pairFilter(b.UserID, b.GroupID), d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store balance: %w", err)
	}
	return nil
}

func (s *Store) ListBalances(ctx context.Context, groupID points.GroupID) ([]points.Balance, error) {
	cursor, err := s.balances.Find(ctx,
		bson.M{"group_id": string(groupID)},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []balanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	balances := make([]points.Balance, 0, len(docs))
	for _, d := range docs {
		balances = append(balances, d.balance())
	}
	return balances, nil
}

func (s *Store) UpdateRank(ctx context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	res, err := s.balances.UpdateOne(ctx,
		pairFilter(userID, groupID),
		bson.M{"$set": bson.M{"rank": rank, "total_members": totalMembers}},
	)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	if res.MatchedCount == 0 {
		return points.BalanceNotFound(userID, groupID)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a multi-document transaction. The driver retries fn
// on transient transaction errors, so fn must be safe to run more than once.
func (s *Store) WithTx(ctx context.Context, fn func(points.Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&txStore{sc: sc, parent: s})
	})
	return err
}

// txStore runs every call under the session context, whatever ctx the caller
// passes in.
type txStore struct {
	sc     mongo.SessionContext
	parent *Store
}

func (ts *txStore) InsertEntry(_ context.Context, e points.Entry) error {
	return ts.parent.InsertEntry(ts.sc, e)
}

func (ts *txStore) GetEntry(_ context.Context, id points.EntryID) (points.Entry, error) {
	return ts.parent.GetEntry(ts.sc, id)
}

func (ts *txStore) UpdateEntry(_ context.Context, e points.Entry, expectedVersion int64) error {
	return ts.parent.UpdateEntry(ts.sc, e, expectedVersion)
}

func (ts *txStore) ListEntries(_ context.Context, f points.EntryFilter) ([]points.Entry, error) {
	return ts.parent.ListEntries(ts.sc, f)
}

func (ts *txStore) GetBalance(_ context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	return ts.parent.GetBalance(ts.sc, userID, groupID)
}

func (ts *txStore) PutBalance(_ context.Context, b points.Balance) error {
	return ts.parent.PutBalance(ts.sc, b)
}

func (ts *txStore) ListBalances(_ context.Context, groupID points.GroupID) ([]points.Balance, error) {
	return ts.parent.ListBalances(ts.sc, groupID)
}

func (ts *txStore) UpdateRank(_ context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	return ts.parent.UpdateRank(ts.sc, userID, groupID, rank, totalMembers)
}

// =============================================================================
// RULES AND TASK STATS
// =============================================================================

func (s *Store) SaveRule(ctx context.Context, r points.Rule) error {
	d := ruleDoc{
		ID:        string(r.ID),
		GroupID:   string(r.GroupID),
		Name:      r.Name,
		Type:      string(r.Type),
		Points:    r.Points,
		MinStreak: r.Conditions.MinStreak,
		MinTasks:  r.Conditions.MinTasks,
		Period:    string(r.Period),
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
	}
	if r.Conditions.MinCompletionRate != nil {
		rate := r.Conditions.MinCompletionRate.String()
		d.MinCompletionRate = &rate
	}
	_, err := s.rules.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id points.RuleID) (points.Rule, error) {
	var d ruleDoc
	err := s.rules.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return points.Rule{}, points.RuleNotFound(id)
	}
	if err != nil {
		return points.Rule{}, err
	}
	return d.rule()
}

func (s *Store) ListRules(ctx context.Context, groupID points.GroupID, activeOnly bool) ([]points.Rule, error) {
	filter := bson.M{"group_id": string(groupID)}
	if activeOnly {
		filter["is_active"] = true
	}
	cursor, err := s.rules.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []ruleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	rules := make([]points.Rule, 0, len(docs))
	for _, d := range docs {
		r, err := d.rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *Store) DeleteRule(ctx context.Context, id points.RuleID) error {
	res, err := s.rules.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return points.RuleNotFound(id)
	}
	return nil
}

func (s *Store) TaskStats(ctx context.Context, userID points.UserID, groupID points.GroupID) (points.TaskStats, error) {
	var d taskStatsDoc
	err := s.taskStats.FindOne(ctx, pairFilter(userID, groupID)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return points.TaskStats{}, nil
	}
	if err != nil {
		return points.TaskStats{}, err
	}
	rate, err := decimal.NewFromString(d.CompletionRate)
	if err != nil {
		return points.TaskStats{}, fmt.Errorf("bad completion_rate %q: %w", d.CompletionRate, err)
	}
	return points.TaskStats{
		CurrentStreak:  d.CurrentStreak,
		CompletionRate: rate,
		TasksCompleted: d.TasksCompleted,
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) SaveTaskStats(ctx context.Context, userID points.UserID, groupID points.GroupID, ts points.TaskStats) error {
	d := taskStatsDoc{
		UserID:         string(userID),
		GroupID:        string(groupID),
		CurrentStreak:  ts.CurrentStreak,
		CompletionRate: ts.CompletionRate.String(),
		TasksCompleted: ts.TasksCompleted,
		UpdatedAt:      ts.UpdatedAt,
	}
	_, err := s.taskStats.ReplaceOne(ctx, pairFilter(userID, groupID), d, options.Replace().SetUpsert(true))
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, c := range []*mongo.Collection{s.entries, s.balances, s.rules, s.taskStats} {
		if _, err := c.DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
	}
	return nil
}
