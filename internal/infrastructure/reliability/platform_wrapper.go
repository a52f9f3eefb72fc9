package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/circuitbreaker"
	"voicerooms/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerSecond float64
	Burst             int
	CallTimeout       time.Duration
	Retry             retry.Config
	CircuitBreaker    circuitbreaker.Config
}

// PlatformWrapper guards a platform client with a rate limiter, a per-call
// timeout, retries and a circuit breaker. Transient failures surface as
// domain.ErrPlatformUnavailable.
type PlatformWrapper struct {
	platform ports.Platform
	logger   *zap.SugaredLogger

	limiter     *rate.Limiter
	callTimeout time.Duration
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

var _ ports.Platform = (*PlatformWrapper)(nil)

// outcomeErrors are answers, not failures: never retried, never counted by
// the breaker.
var outcomeErrors = []error{
	domain.ErrMemberNotFound,
	domain.ErrRoomNotFound,
	domain.ErrPlatformForbidden,
}

func isOutcome(err error) bool {
	for _, target := range outcomeErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func NewPlatformWrapper(platform ports.Platform, cfg Config, logger *zap.SugaredLogger) *PlatformWrapper {
	retryConfig := cfg.Retry
	retryConfig.Permanent = append(append([]error(nil), outcomeErrors...), circuitbreaker.ErrOpen)

	w := &PlatformWrapper{
		platform:    platform,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		callTimeout: cfg.CallTimeout,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(cfg.CircuitBreaker),
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("platform circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func call[T any](ctx context.Context, w *PlatformWrapper, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return callWith(ctx, w, w.retryConfig, op, fn)
}

// callOnce is call without retries, for operations that are not safe to
// repeat: a create whose response was lost may still have happened.
func callOnce[T any](ctx context.Context, w *PlatformWrapper, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return callWith(ctx, w, retry.Config{}, op, fn)
}

func callWith[T any](ctx context.Context, w *PlatformWrapper, retryConfig retry.Config, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := retry.Do(ctx, retryConfig, func() (T, error) {
		if err := w.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		callCtx := ctx
		if w.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
			defer cancel()
		}
		return circuitbreaker.Execute(callCtx, w.breaker, func() (T, error) {
			return fn(callCtx)
		}, isOutcome)
	})
	if err != nil && !isOutcome(err) {
		w.logger.Warnw("platform call failed",
			"op", op,
			"breaker", w.breaker.State().String(),
			"error", err,
		)
		return result, fmt.Errorf("%w: %s: %w", domain.ErrPlatformUnavailable, op, err)
	}
	return result, err
}

func (w *PlatformWrapper) CreateRoom(ctx context.Context, spec domain.RoomSpec) (*domain.PlatformRoom, error) {
	return callOnce(ctx, w, "create_room", func(ctx context.Context) (*domain.PlatformRoom, error) {
		return w.platform.CreateRoom(ctx, spec)
	})
}

func (w *PlatformWrapper) DeleteRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) (domain.DeleteOutcome, error) {
	return call(ctx, w, "delete_room", func(ctx context.Context) (domain.DeleteOutcome, error) {
		return w.platform.DeleteRoom(ctx, guildID, roomID)
	})
}

func (w *PlatformWrapper) MoveMember(ctx context.Context, guildID domain.GuildID, userID domain.UserID, roomID domain.ChannelID) error {
	_, err := call(ctx, w, "move_member", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.platform.MoveMember(ctx, guildID, userID, roomID)
	})
	return err
}

func (w *PlatformWrapper) EditRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID, edit domain.RoomEdit) error {
	_, err := call(ctx, w, "edit_room", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.platform.EditRoom(ctx, guildID, roomID, edit)
	})
	return err
}

type fetchResult struct {
	room    *domain.PlatformRoom
	outcome domain.FetchOutcome
}

func (w *PlatformWrapper) FetchRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, domain.FetchOutcome, error) {
	res, err := call(ctx, w, "fetch_room", func(ctx context.Context) (fetchResult, error) {
		room, outcome, err := w.platform.FetchRoom(ctx, guildID, roomID)
		return fetchResult{room: room, outcome: outcome}, err
	})
	return res.room, res.outcome, err
}

// CachedRoom never leaves the process and bypasses the guards.
func (w *PlatformWrapper) CachedRoom(guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, bool) {
	return w.platform.CachedRoom(guildID, roomID)
}

func (w *PlatformWrapper) Member(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (*domain.Member, error) {
	return call(ctx, w, "member", func(ctx context.Context) (*domain.Member, error) {
		return w.platform.Member(ctx, guildID, userID)
	})
}

func (w *PlatformWrapper) TargetExists(ctx context.Context, guildID domain.GuildID, id domain.TargetID, typ domain.TargetType) (bool, error) {
	return call(ctx, w, "target_exists", func(ctx context.Context) (bool, error) {
		return w.platform.TargetExists(ctx, guildID, id, typ)
	})
}

// BreakerState reports the circuit state for health checks.
func (w *PlatformWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.State()
}
