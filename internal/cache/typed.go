package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/transitbook/tiercache/pkg/errors"
)

// GetAs reads key and decodes its value into T. A missing key returns ok == false and no error.
func GetAs[T any](ctx context.Context, e *Engine, key string, opts ...GetOption) (T, bool, error) {
	entry, ok := e.Get(ctx, key, opts...)
	if !ok {
		var zero T
		return zero, false, nil
	}
	v, err := decodeValue[T](entry.Key, entry.Object, entry.Value)
	return v, err == nil, err
}

func decodeValue[T any](key string, object interface{}, data []byte) (T, error) {
	var v T
	if object != nil {
		typed, ok := object.(T)
		if !ok {
			return v, errors.NewError(errors.ErrCodeSerialization, fmt.Sprintf("cached value has type %T", object)).
				WithKey(key)
		}
		return typed, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode cached value").WithKey(key)
	}
	return v, nil
}

// GetOrLoad returns the cached value for key or loads, stores and returns it. Concurrent calls
// for the same key share one loader invocation.
func GetOrLoad[T any](ctx context.Context, e *Engine, key string, loader func(ctx context.Context, key string) (T, error), opts ...SetOption) (T, error) {
	if v, ok, err := GetAs[T](ctx, e, key); err == nil && ok {
		return v, nil
	}

	res, err, _ := e.loads.Do(key, func() (interface{}, error) {
		// A flight that finished since the read above has already stored the value.
		o := e.defaultGetOptions()
		o.touch = false
		if entry, _, ok := e.lookup(ctx, key, o); ok {
			if v, err := decodeValue[T](key, entry.Object, entry.Value); err == nil {
				return v, nil
			}
		}

		v, err := loader(ctx, key)
		if err != nil {
			e.loaderFailures.Add(1)
			return nil, errors.Wrap(err, errors.ErrCodeLoaderFailure, "loader returned error").WithKey(key)
		}
		if err := e.Set(ctx, key, v, opts...); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
