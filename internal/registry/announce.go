package registry

import (
	"context"
	"errors"
	"fmt"
)

// Announce registers record and returns a func that unregisters it. The
// returned func tolerates the record having already been removed.
func Announce(ctx context.Context, store Registry, record ServiceRecord) (func(context.Context) error, error) {
	if err := store.Register(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to announce %s: %w", record.Name, err)
	}

	name := record.Name
	return func(ctx context.Context) error {
		err := store.Unregister(ctx, name)
		if err != nil && !errors.Is(err, ErrServiceNotFound) {
			return fmt.Errorf("failed to withdraw %s: %w", name, err)
		}
		return nil
	}, nil
}
