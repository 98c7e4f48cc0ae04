package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pumpledger/internal/changefeed"
	"pumpledger/internal/clock"
	"pumpledger/internal/domain"
	"pumpledger/internal/lock"
	"pumpledger/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SystemActor is used for bootstrap work that has no human caller.
var SystemActor = domain.Actor{UID: "system", Roles: []string{domain.RoleAdmin}}

// Service is the single entry point for every mutation of the ledger. Each
// exported mutation runs as one store transaction whose body only reads and
// stages writes, so the store may re-run it on conflict.
type Service struct {
	store       store.Store
	clock       clock.Clock
	feed        changefeed.Feed
	locker      lock.Locker
	logger      logrus.FieldLogger
	tracer      trace.Tracer
	validate    *validator.Validate
	phoneRegion string
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithFeed(f changefeed.Feed) Option {
	return func(s *Service) { s.feed = f }
}

func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithPhoneRegion(region string) Option {
	return func(s *Service) { s.phoneRegion = region }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:       st,
		clock:       clock.System{},
		locker:      lock.Noop{},
		logger:      logrus.StandardLogger(),
		tracer:      otel.Tracer("pumpledger/ledger"),
		validate:    validator.New(),
		phoneRegion: "PK",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutate runs fn inside a store transaction on behalf of the actor in ctx.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, t *txn) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UID == "" {
		err := domain.Unauthorized("%s requires an authenticated actor", op)
		s.fail(span, op, actor, err)
		return err
	}

	now := s.clock.Now()
	var committed *txn
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t := newTxn(s, tx, actor, now)
		if err := fn(ctx, t); err != nil {
			return err
		}
		if err := t.flush(ctx); err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		err = translate(err)
		s.fail(span, op, actor, err)
		return err
	}

	s.publish(ctx, op, committed)
	s.logger.WithFields(logrus.Fields{
		"op":     op,
		"actor":  actor.UID,
		"shifts": committed.shiftList(),
	}).Info("ledger: committed")
	return nil
}

func (s *Service) fail(span trace.Span, op string, actor domain.Actor, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	entry := s.logger.WithFields(logrus.Fields{"op": op, "actor": actor.UID})
	if errors.Is(err, domain.ErrExternalService) {
		entry.WithError(err).Error("ledger: store failure")
		return
	}
	entry.WithError(err).Info("ledger: rejected")
}

func (s *Service) publish(ctx context.Context, op string, t *txn) {
	if s.feed == nil || t == nil {
		return
	}
	collections := make([]string, 0, len(t.collections))
	for c := range t.collections {
		collections = append(collections, string(c))
	}
	sort.Strings(collections)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := changefeed.Event{Op: op, ShiftIDs: t.shiftList(), Collections: collections, At: t.now}
	if err := s.feed.Publish(pubCtx, ev); err != nil {
		s.logger.WithError(err).WithField("op", op).Warn("ledger: changefeed publish failed")
	}
}

// translate maps store-level failures onto the ledger error taxonomy. Errors
// that already carry a kind pass through.
func translate(err error) error {
	if domain.KindOf(err) != nil {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return domain.External(err, "transaction kept conflicting, retry later")
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("%v", err)
	}
	return domain.External(err, "store unavailable")
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.Validation("%s", describeValidation(verrs))
		}
		return domain.Validation("%v", err)
	}
	return nil
}

func describeValidation(verrs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fe.Field() + " failed " + fe.Tag()
	}
	return msg
}

func requireAdmin(ctx context.Context, op string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.HasRole(domain.RoleAdmin) {
		return domain.Unauthorized("%s requires the admin role", op)
	}
	return nil
}

// read wraps a non-transactional store read in a span and error translation.
func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()
	if err := fn(ctx); err != nil {
		err = translate(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
