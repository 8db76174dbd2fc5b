// Package routespec declares the Route contract every canonical route
// (Health, Chat, Embeddings, ...) must satisfy (spec §4.1). A route is
// a named type bundling a typed Request, typed Response, metadata, a
// validator, a handler, and at least one test case. The dispatcher
// (internal/dispatch) refuses to register a Route whose TestCases are
// empty — that is the "mandatory at construction" guarantee the spec
// asks for, since Go has no first-class way to fail a missing method
// at compile time without a code generator.
package routespec

import (
	"context"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/value"
)

// AuthClass is the authentication tier a route requires.
type AuthClass string

const (
	AuthPublic    AuthClass = "public"
	AuthAPIKey    AuthClass = "api_key"
	AuthInternal  AuthClass = "internal" // MCP stdio, native-messaging: trusted caller
)

// RateLimitTier buckets routes for the dispatcher's rate limiter.
type RateLimitTier string

const (
	RateLimitNone     RateLimitTier = "none"
	RateLimitStandard RateLimitTier = "standard"
	RateLimitExpensive RateLimitTier = "expensive" // generation/embedding routes
)

// Metadata describes a route's identity and policy (spec §4.1).
type Metadata struct {
	ID              value.ValueType
	Tags            []string
	Description     string
	Auth            AuthClass
	RateLimit       RateLimitTier
	OpenAICompatible bool
	Timeout         TimeoutSpec
}

// TimeoutSpec is the per-route timeout declared in RouteMetadata
// (spec §5 "Timeouts are per route, declared in RouteMetadata").
type TimeoutSpec struct {
	Seconds int
}

// TestCase is one (input, expected) pair a route must ship at least
// one of (spec §4.1, §8 "Route conformance").
type TestCase[Req any, Resp any] struct {
	Name     string
	Input    Req
	Expected Resp
}

// Route is the contract every concrete route type implements. AppState
// is passed as `any` here to avoid an import cycle between routespec
// and internal/appstate; internal/routes type-asserts it back to
// *appstate.AppState at the single call site in each handler.
type Route[Req any, Resp any] interface {
	Metadata() Metadata
	Validate(req Req) *apperr.Error
	Handle(ctx context.Context, req Req, state any) (Resp, *apperr.Error)
	TestCases() []TestCase[Req, Resp]
}

// RequireNonEmptyTestCases enforces the "at least one TestCase"
// requirement at registration time (internal/dispatch calls this for
// every route it registers).
func RequireNonEmptyTestCases[Req any, Resp any](r Route[Req, Resp]) error {
	if len(r.TestCases()) == 0 {
		return errNoTestCases{id: string(r.Metadata().ID)}
	}
	return nil
}

type errNoTestCases struct{ id string }

func (e errNoTestCases) Error() string {
	return "routespec: route " + e.id + " registered with zero test cases"
}
