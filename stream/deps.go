package stream

import (
	"context"
	"errors"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/session"
	"github.com/onnwee/livewatch/youtubeapi"
)

// Rotator charges quota and supplies the credential for a call.
type Rotator interface {
	Do(ctx context.Context, cost int, fn func(quota.Handle) error) error
}

// Recorder receives call outcomes for backpressure.
type Recorder interface {
	Record(success bool)
}

// Deps are the collaborators shared by every component that talks to the API.
// main builds one Deps and hands it to each constructor.
type Deps struct {
	Rotator  Rotator
	Breakers *breaker.Registry
	Cache    *session.Cache
	// Throttle is optional.
	Throttle Recorder
}

// Call runs fn through the named breaker with a charged credential. The
// outcome is reported to the throttle.
func (d Deps) Call(ctx context.Context, op string, cost int, fn func(context.Context, youtubeapi.Client) error) error {
	err := d.Breakers.Get(op).Call(ctx, func(ctx context.Context) error {
		return d.Rotator.Do(ctx, cost, func(h quota.Handle) error {
			return fn(ctx, h.Client)
		})
	})
	if d.Throttle != nil && !errors.Is(err, context.Canceled) && !quota.IsLocal(err) {
		d.Throttle.Record(!youtubeapi.IsBreakerFailure(err) && !errors.Is(err, breaker.ErrCircuitOpen))
	}
	return err
}
