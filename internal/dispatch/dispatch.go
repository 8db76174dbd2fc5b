// Package dispatch implements the transport-agnostic dispatch contract
// from spec §4.1: parse (done by the transport adapter) → lookup route
// → enforce auth/rate-limit → validate → handle → wrap response.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/value"
)

// Caller describes the authenticated (or anonymous) caller making a
// request, used to enforce a route's AuthClass and RateLimitTier.
type Caller struct {
	Authenticated bool
	AuthClass     routespec.AuthClass // the class this caller satisfies
}

// RateLimiter decides whether a caller may proceed for a given tier.
// cmd/server wires TokenBucketLimiter (ratelimit.go) into the one
// Dispatcher every transport shares; a nil RateLimiter means "never
// limit".
type RateLimiter interface {
	Allow(callerKey string, tier routespec.RateLimitTier) bool
}

// Dispatcher routes parsed envelopes to registered routes, enforcing
// the policy steps in spec §4.1.
type Dispatcher struct {
	registry *Registry
	limiter  RateLimiter
}

// New builds a Dispatcher over a populated Registry.
func New(registry *Registry, limiter RateLimiter) *Dispatcher {
	return &Dispatcher{registry: registry, limiter: limiter}
}

// Dispatch runs the full contract for one inbound envelope. callerKey
// identifies the caller for rate-limiting (e.g. API key or remote IP).
func (d *Dispatcher) Dispatch(ctx context.Context, env value.Envelope, requestID ids.RequestId, caller Caller, callerKey string, state any) (value.Envelope, *apperr.Error) {
	route, ok := d.registry.Lookup(env.Type())
	if !ok {
		return value.Envelope{}, apperr.New(apperr.RouteNotFound, "no route registered for "+string(env.Type()))
	}

	md := route.Metadata()

	if err := d.enforceAuth(md, caller); err != nil {
		return value.Envelope{}, err
	}
	if d.limiter != nil && md.RateLimit != routespec.RateLimitNone {
		if !d.limiter.Allow(callerKey, md.RateLimit) {
			return value.Envelope{}, apperr.New(apperr.RateLimited, "rate limit exceeded for tier "+string(md.RateLimit))
		}
	}

	return route.Dispatch(ctx, env, state)
}

// DispatchDecoded looks up routeID, decodes rawBody as that route's
// Req, and runs the normal Dispatch contract, returning the response
// Envelope undecoded — the entry point transport adapters use when the
// response might be a stream (its Payload then type-asserts against
// stream.JSONStreamer) rather than a single JSON value.
func (d *Dispatcher) DispatchDecoded(ctx context.Context, routeID value.ValueType, rawBody []byte, requestID ids.RequestId, caller Caller, callerKey string, state any) (value.Envelope, *apperr.Error) {
	route, ok := d.registry.Lookup(routeID)
	if !ok {
		return value.Envelope{}, apperr.New(apperr.RouteNotFound, "no route registered for "+string(routeID))
	}

	env, derr := route.DecodeJSON(rawBody)
	if derr != nil {
		return value.Envelope{}, derr
	}

	return d.Dispatch(ctx, env, requestID, caller, callerKey, state)
}

// DispatchRaw is the entry point transport adapters use for
// non-streaming routes: it decodes and dispatches like
// DispatchDecoded, then marshals the response payload back to JSON
// bytes — the "parsing/framing -> single handle(raw) -> raw surface"
// shape spec §4.2 asks every adapter to own on top of.
func (d *Dispatcher) DispatchRaw(ctx context.Context, routeID value.ValueType, rawBody []byte, requestID ids.RequestId, caller Caller, callerKey string, state any) ([]byte, *apperr.Error) {
	out, err := d.DispatchDecoded(ctx, routeID, rawBody, requestID, caller, callerKey, state)
	if err != nil {
		return nil, err
	}

	raw, merr := json.Marshal(out.Payload())
	if merr != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal response payload", merr)
	}
	return raw, nil
}

// enforceAuth checks the caller satisfies the route's AuthClass.
func (d *Dispatcher) enforceAuth(md routespec.Metadata, caller Caller) *apperr.Error {
	switch md.Auth {
	case routespec.AuthPublic:
		return nil
	case routespec.AuthInternal:
		// Internal-class routes are only reachable from transports that
		// never set Authenticated=false for a real external caller
		// (stdio/MCP adapters construct Caller{Authenticated:true,
		// AuthClass:AuthInternal} themselves).
		if caller.AuthClass != routespec.AuthInternal {
			return apperr.New(apperr.Unauthorized, "route requires an internal transport")
		}
		return nil
	case routespec.AuthAPIKey:
		if !caller.Authenticated {
			return apperr.New(apperr.Unauthorized, "route requires authentication")
		}
		return nil
	default:
		return nil
	}
}

// RegisteredIDs exposes the registry's discriminants for introspection.
func (d *Dispatcher) RegisteredIDs() []value.ValueType { return d.registry.IDs() }
