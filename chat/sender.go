package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/youtubeapi"
)

// Sender posts messages to a live chat, at most one per MinInterval.
type Sender struct {
	deps        stream.Deps
	minInterval time.Duration
	scaler      Scaler
	limiter     *rate.Limiter
}

// NewSender returns a Sender. scaler may be nil.
func NewSender(deps stream.Deps, minInterval time.Duration, scaler Scaler) *Sender {
	if minInterval <= 0 {
		minInterval = 3 * time.Second
	}
	return &Sender{
		deps:        deps,
		minInterval: minInterval,
		scaler:      scaler,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Send posts text to chatID. It reports true when the message was accepted.
// Forbidden answers are logged and reported as (false, nil); they are not worth
// retrying. Unauthorized and other failures are returned so the caller can
// surface or retry them.
func (s *Sender) Send(ctx context.Context, chatID, text string) (bool, error) {
	if chatID == "" || text == "" {
		return false, fmt.Errorf("chat: send needs a chat id and text")
	}
	spacing := s.minInterval
	if s.scaler != nil {
		spacing = s.scaler.Scale(spacing)
	}
	s.limiter.SetLimit(rate.Every(spacing))
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}

	err := s.deps.Call(ctx, breaker.Send, youtubeapi.CostChatInsert, func(ctx context.Context, c youtubeapi.Client) error {
		return c.InsertChatMessage(ctx, chatID, text)
	})
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("chat_id", chatID))
	switch {
	case err == nil:
		telemetry.IncSend("sent")
		logger.Debug("chat message sent", slog.Int("len", len(text)))
		return true, nil
	case errors.Is(err, youtubeapi.ErrForbidden), errors.Is(err, youtubeapi.ErrNotFound):
		telemetry.IncSend("forbidden")
		logger.Warn("chat send rejected; not retrying", slog.Any("err", err))
		return false, nil
	case errors.Is(err, youtubeapi.ErrUnauthorized):
		telemetry.IncSend("unauthorized")
		logger.Error("chat send unauthorized; credential needs re-authorization", slog.Any("err", err))
		return false, err
	case errors.Is(err, quota.ErrNoCredentialsAvailable):
		telemetry.IncSend("no_credentials")
		return false, err
	default:
		telemetry.IncSend("error")
		logger.Warn("chat send failed", slog.Any("err", err))
		return false, err
	}
}
