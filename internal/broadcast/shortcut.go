package broadcast

import (
	"context"

	"github.com/mattjoyce/saya/internal/channel"
)

// Listen registers handler on the channel being loaded for the named events
// at default priority.
func Listen(ctx context.Context, handler Handler, events ...string) error {
	return ListenWith(ctx, ListenerSchema{Events: events}, handler)
}

// ListenWith registers handler under an explicit schema.
func ListenWith(ctx context.Context, schema ListenerSchema, handler Handler) error {
	ch, err := channel.Current(ctx)
	if err != nil {
		return err
	}
	ch.Register(schema, handler)
	return nil
}
