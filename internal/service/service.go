package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/blob"
	"cashrecon/backend/internal/cache"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/notify"
	"cashrecon/backend/internal/ocr"
	"cashrecon/backend/internal/reconcile"
	"cashrecon/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries the collaborators and defaults a Service needs. Zero values
// fall back to no-op collaborators and the built-in thresholds.
type Options struct {
	Logger *zap.Logger
	// Thresholds are used as given, zero values included. Nil means
	// reconcile.DefaultThresholds.
	Thresholds        *reconcile.Thresholds
	CreditCardFeeRate decimal.Decimal
	SummaryCache      cache.SummaryCache
	SummaryTTL        time.Duration
	SummaryRecipients []string
	Blobs             blob.Storage
	Extractor         ocr.Extractor
	Notifier          notify.Notifier
	Now               func() time.Time
}

type Service struct {
	repo       store.Repository
	logger     *zap.Logger
	thresholds reconcile.Thresholds
	feeRate    decimal.Decimal
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	recipients []string
	blobs      blob.Storage
	extractor  ocr.Extractor
	notifier   notify.Notifier
	now        func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	thresholds := reconcile.DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	if opts.SummaryCache == nil {
		opts.SummaryCache = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 5 * time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:       repo,
		logger:     opts.Logger,
		thresholds: thresholds,
		feeRate:    opts.CreditCardFeeRate,
		summaries:  opts.SummaryCache,
		summaryTTL: opts.SummaryTTL,
		recipients: opts.SummaryRecipients,
		blobs:      opts.Blobs,
		extractor:  opts.Extractor,
		notifier:   opts.Notifier,
		now:        opts.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	return actor, nil
}

// thresholdsFor reads the per-deployment overrides stored as system config.
// Unparseable rows are logged and ignored.
func (s *Service) thresholdsFor(ctx context.Context, r store.Reader) (reconcile.Thresholds, error) {
	t := s.thresholds
	overrides := []struct {
		key    string
		target *decimal.Decimal
	}{
		{domain.ConfigDiscrepancyThreshold, &t.Discrepancy},
		{domain.ConfigVarianceEpsilon, &t.VarianceEpsilon},
	}
	for _, o := range overrides {
		value, ok, err := s.configDecimal(ctx, r, o.key)
		if err != nil {
			return reconcile.Thresholds{}, err
		}
		if ok {
			*o.target = value
		}
	}
	return t, nil
}

func (s *Service) configDecimal(ctx context.Context, r store.Reader, key string) (decimal.Decimal, bool, error) {
	cfg, err := r.GetSystemConfig(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, translate(err, "system config")
	}
	value, err := decimal.NewFromString(strings.TrimSpace(cfg.Value))
	if err != nil || value.IsNegative() {
		s.logger.Warn("[service] ignoring invalid system config value", zap.String("key", key), zap.String("value", cfg.Value))
		return decimal.Zero, false, nil
	}
	return value, true, nil
}

// translate converts storage errors into the apperr taxonomy. Errors that
// already carry a kind pass through untouched.
func translate(err error, entity string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("%s not found", entity)
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.KindDuplicate, err, entity+" already exists")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.KindInvalidStatus, err, entity+" is still referenced by other records")
	}
	return apperr.Wrap(apperr.KindInternal, err, "storage failure")
}

func parseDate(field string, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperr.Validation("%s is required", field).WithDetail("field", field)
	}
	parsed, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be YYYY-MM-DD", field).WithDetail("field", field)
	}
	return parsed.UTC(), nil
}

func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := parseDate(field, *value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// dateRange parses an inclusive from/to pair. to is moved to the last instant
// of its day so timestamp columns compare correctly.
func dateRange(from string, to string) (*time.Time, *time.Time, error) {
	var fromAt, toAt *time.Time
	if strings.TrimSpace(from) != "" {
		parsed, err := parseDate("from", from)
		if err != nil {
			return nil, nil, err
		}
		fromAt = &parsed
	}
	if strings.TrimSpace(to) != "" {
		parsed, err := parseDate("to", to)
		if err != nil {
			return nil, nil, err
		}
		end := parsed.Add(24*time.Hour - time.Nanosecond)
		toAt = &end
	}
	if fromAt != nil && toAt != nil && toAt.Before(*fromAt) {
		return nil, nil, apperr.Validation("to must not be before from")
	}
	return fromAt, toAt, nil
}

// maxMoney is the first value NUMERIC(14, 2) cannot hold.
var maxMoney = decimal.New(1, 12)

func requireNonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return apperr.Validation("%s must not be negative", field).WithDetail("field", field)
	}
	return requireMoneyPrecision(field, value)
}

// requireMoneyPrecision rejects amounts storage would round or overflow, so
// flags derived from them always agree with the stored amounts.
func requireMoneyPrecision(field string, value decimal.Decimal) error {
	if !value.Equal(value.Truncate(2)) {
		return apperr.Validation("%s must have at most 2 decimal places", field).WithDetail("field", field)
	}
	if value.Abs().GreaterThanOrEqual(maxMoney) {
		return apperr.Validation("%s is out of range", field).
			WithDetail("field", field).
			WithDetail("max", "999999999999.99")
	}
	return nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return optional(*value)
}
