package callout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Handler decides on one callout. The returned envelope replaces the one in
// the shared region; it must be of the same variant. Returning an error, or
// a nil envelope, leaves the region untouched so the server proceeds with its
// own choice. A result for a call the server has already given up on is
// dropped.
type Handler interface {
	HandleCallout(ctx context.Context, env Envelope) (Envelope, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) (Envelope, error)

func (f HandlerFunc) HandleCallout(ctx context.Context, env Envelope) (Envelope, error) {
	return f(ctx, env)
}

// ErrServing is returned when Serve is called on a channel that is already
// serving.
var ErrServing = errors.New("callout: channel already serving")

// Serve attaches as the callout module and answers calls until ctx is done
// or the channel is closed. Every call the server posts is completed, even
// when the handler fails.
func (c *Channel) Serve(ctx context.Context, h Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.serving {
		c.mu.Unlock()
		return ErrServing
	}
	ctx, cancel := context.WithCancel(ctx)
	c.serving = true
	c.stopServing = cancel
	c.serveWG.Add(1)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.serving = false
		c.stopServing = nil
		c.mu.Unlock()
		c.serveWG.Done()
	}()

	send, err := openEvent(c.paths.send)
	if err != nil {
		return err
	}
	defer send.Close()

	stop := context.AfterFunc(ctx, func() { send.SetReadDeadline(time.Now()) })
	defer stop()

	c.logger.Info("callout listener attached")
	for {
		tok, err := readToken(send)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("callout listener detached")
				return nil
			}
			return fmt.Errorf("reading send event: %w", err)
		}
		c.handle(ctx, h, tok)
	}
}

func (c *Channel) handle(ctx context.Context, h Handler, tok token) {
	defer func() {
		if err := postToken(c.reply, tok); err != nil {
			c.logger.Error("completing callout", "error", err)
		}
	}()

	if owner := c.owner(); owner != tok {
		c.logger.Warn("callout abandoned by the server, skipping", "token", uint64(tok), "owner", uint64(owner))
		return
	}
	in := make([]byte, OfferSize)
	copy(in, c.envelope())
	if c.owner() != tok {
		c.logger.Warn("callout abandoned while reading, skipping", "token", uint64(tok))
		return
	}
	env, err := Decode(in)
	if err != nil {
		c.logger.Warn("ignoring malformed callout", "error", err)
		return
	}

	out, err := c.dispatch(ctx, h, env)
	switch {
	case err != nil:
		c.logger.Warn("callout handler failed", "hook", env.Hook().String(), "error", err)
		return
	case out == nil:
		return
	case out.Hook() != env.Hook():
		c.logger.Warn("callout handler changed hook type, ignoring result",
			"hook", env.Hook().String(), "returned", out.Hook().String())
		return
	}

	buf, err := out.MarshalBinary()
	if err != nil {
		c.logger.Warn("encoding callout result", "hook", env.Hook().String(), "error", err)
		return
	}
	if c.owner() != tok {
		c.logger.Warn("callout abandoned by the server, dropping result",
			"hook", env.Hook().String(), "token", uint64(tok))
		return
	}
	copy(c.envelope(), buf)
	// Restamp our token after the body. If the server took the region over
	// meanwhile, it now sees a foreign owner instead of a mixed envelope.
	if prev := c.claim(tok); prev != tok {
		c.logger.Warn("late callout result overlapped the next call",
			"hook", env.Hook().String(), "token", uint64(tok), "next", uint64(prev))
	}
}

func (c *Channel) dispatch(ctx context.Context, h Handler, env Envelope) (out Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleCallout(ctx, env)
}
