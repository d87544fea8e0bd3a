package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/notify"
	"marketplace/backend/internal/quote"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/xid"
)

var ErrAdminRequired = &domain.Error{Class: domain.ClassForbidden, Code: "admin_required"}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	quotes   *quote.Engine
	notifier notify.Notifier
	logger   *zap.Logger
	currency string
	now      func() time.Time
}

func New(repo store.Repository, quotes *quote.Engine, notifier notify.Notifier, logger *zap.Logger, currency string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quotes == nil {
		quotes = quote.NewEngine(nil, 0, logger)
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if currency == "" {
		currency = "IDR"
	}

	return &Service{
		repo:     repo,
		quotes:   quotes,
		notifier: notifier,
		logger:   logger,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for promotion windows and timeline
// entries.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrAdminRequired.Withf("admin role required")
	}
	return nil
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return "system"
	}
	return actor.Username
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// notifyEntries forwards customer-flagged timeline entries. Delivery failures
// are logged and never fail the operation that produced the entry.
func (s *Service) notifyEntries(ctx context.Context, order domain.Order, entries []domain.TimelineEntry) {
	for _, entry := range entries {
		if !entry.NotifyCustomer {
			continue
		}
		err := s.notifier.Notify(ctx, notify.Event{
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			Kind:      string(entry.Kind),
			Status:    entry.Status,
			ItemID:    entry.ItemID,
			Note:      entry.Note,
			CreatedAt: entry.CreatedAt,
		})
		if err != nil {
			s.logger.Warn("customer notification failed",
				zap.String("order_id", order.ID),
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}
}
