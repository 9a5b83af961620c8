// Package xcmd holds helpers shared by command line tools.
package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted is returned by WaitInterrupted when a signal arrives.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return "interrupted by " + m.String()
}

// IsInterrupted reports whether err was caused by a termination signal.
func IsInterrupted(err error) bool {
	var interrupted Interrupted
	return errors.As(err, &interrupted)
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
