// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"log/slog"
)

// Result is the outcome of TryInOrder. On success Provider names the
// provider that answered and Err is nil.
type Result[T any] struct {
	Value    T
	Provider string
	Err      error
}

// OK reports whether a provider succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// TryInOrder calls call with each provider until one succeeds.
//
// # Description
//
// Failures are logged and collected; the next provider gets an equivalent
// request. If every provider fails, Err joins all failures. If ctx is done
// between attempts the remaining providers are skipped. An empty provider
// list yields ErrNoProviders.
//
// # Examples
//
//	res := TryInOrder(ctx, providers, func(ctx context.Context, p Provider) (string, error) {
//	    return p.Chat(ctx, messages, params)
//	})
//	if res.OK() {
//	    use(res.Value)
//	}
func TryInOrder[T any](ctx context.Context, providers []Provider, call func(context.Context, Provider) (T, error)) Result[T] {
	if len(providers) == 0 {
		return Result[T]{Err: ErrNoProviders}
	}

	var errs []error
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		v, err := call(ctx, p)
		if err == nil {
			if i > 0 {
				slog.Info("LLM fallback provider answered", "provider", p.Name(), "attempt", i+1)
			}
			return Result[T]{Value: v, Provider: p.Name()}
		}
		errs = append(errs, err)
		if i < len(providers)-1 {
			slog.Warn("LLM provider failed, attempting fallback", "provider", p.Name(), "error", err)
		} else {
			slog.Error("LLM provider failed", "provider", p.Name(), "error", err)
		}
	}
	return Result[T]{Err: errors.Join(errs...)}
}
