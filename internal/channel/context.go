package channel

import "context"

type channelKey struct{}

// WithChannel binds ch as the current channel for code running under the
// returned context. The binding ends with the context's scope.
func WithChannel(ctx context.Context, ch *Channel) context.Context {
	return context.WithValue(ctx, channelKey{}, ch)
}

// Current returns the channel bound to ctx.
func Current(ctx context.Context) (*Channel, error) {
	if ctx == nil {
		return nil, ErrNoActiveLoad
	}
	ch, ok := ctx.Value(channelKey{}).(*Channel)
	if !ok || ch == nil {
		return nil, ErrNoActiveLoad
	}
	return ch, nil
}
