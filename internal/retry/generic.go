package retry

import "context"

// DoWithResultTyped is a type-safe generic wrapper around Retryer.DoWithResult.
//
//	data, err := retry.DoWithResultTyped(r, ctx, func() (map[string]any, error) {
//	    return tool.Execute(ctx, params)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
