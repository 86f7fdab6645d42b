package channel

import (
	"context"
	"errors"

	"github.com/roach88/rshare/internal/events"
)

// serve reads mb until ctx is done or the mailbox closes, passing
// same-origin envelopes to handle. Envelopes are handled one at a time.
func serve(ctx context.Context, mb *Mailbox, bus *events.Bus, handle func(Envelope)) error {
	for {
		env, err := mb.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) {
				return nil
			}
			return err
		}
		if env.Origin != mb.Origin() {
			bus.Logf(events.CategoryWarning, "dropped %s message from foreign origin %s", env.Message.Type, env.Origin)
			continue
		}
		handle(env)
	}
}
