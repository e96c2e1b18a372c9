package dispatcher

import "context"

// Result runs fn on d and returns its value, for dispatched work that
// produces a result in addition to an error.
func Result[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	var value T
	err := d.Invoke(ctx, func(ctx context.Context) error {
		var err error
		value, err = fn(ctx)
		return err
	})
	return value, err
}
