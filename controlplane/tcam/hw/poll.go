package hw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var errBusy = errors.New("device busy")

// Poll calls "busy" every "interval" until it reports the device idle.
//
// The poll is bounded: once "timeout" elapses without observing completion
// ErrTimeout is returned. Errors returned by "busy" abort the poll.
func Poll(ctx context.Context, busy func() (bool, error), interval time.Duration, timeout time.Duration) error {
	_, err := backoff.Retry(
		ctx,
		func() (struct{}, error) {
			isBusy, err := busy()
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			if isBusy {
				return struct{}{}, errBusy
			}
			return struct{}{}, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if errors.Is(err, errBusy) {
		return fmt.Errorf("%w: device still busy after %s", ErrTimeout, timeout)
	}

	return err
}
