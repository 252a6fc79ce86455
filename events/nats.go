/*
Package events publishes approval decisions to NATS.

PURPOSE:
  The notification subsystem (push messages to the kid's phone) lives in
  another process. It subscribes to decision events instead of polling the
  ledger.

SUBJECTS:
  <prefix>.<group>.<state>      e.g. points.decisions.family-42.approved
  Subscribe to "<prefix>.>" for everything, or "<prefix>.*.approved" for
  approvals only.

DELIVERY:
  Core NATS, at most once. Publishing happens after the decision committed;
  a failed publish is logged and never undoes or fails the decision.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/points"
)

// DecisionMessage is the JSON payload of a decision event.
type DecisionMessage struct {
	EntryID   string          `json:"entry_id"`
	UserID    string          `json:"user_id"`
	GroupID   string          `json:"group_id"`
	Type      string          `json:"type"`
	Amount    int64           `json:"amount"`
	Reason    string          `json:"reason"`
	State     string          `json:"state"`
	DecidedBy string          `json:"decided_by"`
	DecidedAt time.Time       `json:"decided_at"`
	Balance   *BalanceMessage `json:"balance,omitempty"`
}

type BalanceMessage struct {
	TotalPoints    int64 `json:"total_points"`
	EarnedPoints   int64 `json:"earned_points"`
	DeductedPoints int64 `json:"deducted_points"`
	BonusPoints    int64 `json:"bonus_points"`
}

// Publisher implements points.Notifier over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

var _ points.Notifier = (*Publisher)(nil)

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("points-ledger"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return NewPublisher(nc, prefix, logger), nil
}

// NewPublisher publishes on an existing connection.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject a decision for group in state is published on.
func (p *Publisher) Subject(groupID points.GroupID, state points.ApprovalState) string {
	return p.prefix + "." + token(string(groupID)) + "." + token(string(state))
}

// Notify publishes ev. Errors are logged.
func (p *Publisher) Notify(_ context.Context, ev points.DecisionEvent) {
	msg := DecisionMessage{
		EntryID:   string(ev.Entry.ID),
		UserID:    string(ev.Entry.UserID),
		GroupID:   string(ev.Entry.GroupID),
		Type:      string(ev.Entry.Type),
		Amount:    ev.Entry.Amount,
		Reason:    ev.Entry.Reason,
		State:     string(ev.Entry.State),
		DecidedBy: ev.Entry.ApprovedBy,
		DecidedAt: ev.DecidedAt,
	}
	if ev.Balance != nil {
		msg.Balance = &BalanceMessage{
			TotalPoints:    ev.Balance.TotalPoints,
			EarnedPoints:   ev.Balance.EarnedPoints,
			DeductedPoints: ev.Balance.DeductedPoints,
			BonusPoints:    ev.Balance.BonusPoints,
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode decision event", zap.String("entry_id", msg.EntryID), zap.Error(err))
		return
	}

	subject := p.Subject(ev.Entry.GroupID, ev.Entry.State)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish decision event",
			zap.String("subject", subject),
			zap.String("entry_id", msg.EntryID),
			zap.Error(err),
		)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
