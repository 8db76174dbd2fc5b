package dispatch

import (
	"context"
	"testing"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/value"
	"github.com/stretchr/testify/require"
)

type echoReq struct{ Text string }
type echoResp struct{ Text string }

type echoRoute struct{}

func (echoRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{ID: "Echo", Auth: routespec.AuthPublic, RateLimit: routespec.RateLimitStandard}
}
func (echoRoute) Validate(req echoReq) *apperr.Error {
	if req.Text == "" {
		return apperr.ValidationField("text", "must not be empty")
	}
	return nil
}
func (echoRoute) Handle(_ context.Context, req echoReq, _ any) (echoResp, *apperr.Error) {
	return echoResp{Text: req.Text}, nil
}
func (echoRoute) TestCases() []routespec.TestCase[echoReq, echoResp] {
	return []routespec.TestCase[echoReq, echoResp]{
		{Name: "basic", Input: echoReq{Text: "hi"}, Expected: echoResp{Text: "hi"}},
	}
}

func buildDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Register[echoReq, echoResp](reg, echoRoute{}))
	return New(reg, nil)
}

func TestDispatchHappyPath(t *testing.T) {
	d := buildDispatcher(t)
	env := value.NewEnvelope(value.New[echoReq]("Echo", echoReq{Text: "hi"}))

	out, err := d.Dispatch(context.Background(), env, ids.NewRequestId(), Caller{Authenticated: true}, "caller", nil)
	require.Nil(t, err)

	got, cerr := value.As[echoResp](out, "Echo")
	require.NoError(t, cerr)
	require.Equal(t, "hi", got.Get().Text)
}

func TestDispatchRouteNotFound(t *testing.T) {
	d := buildDispatcher(t)
	env := value.NewEnvelope(value.New[echoReq]("NoSuchRoute", echoReq{Text: "hi"}))

	_, err := d.Dispatch(context.Background(), env, ids.NewRequestId(), Caller{}, "caller", nil)
	require.NotNil(t, err)
	require.Equal(t, apperr.RouteNotFound, err.Kind)
}

func TestDispatchValidationError(t *testing.T) {
	d := buildDispatcher(t)
	env := value.NewEnvelope(value.New[echoReq]("Echo", echoReq{Text: ""}))

	_, err := d.Dispatch(context.Background(), env, ids.NewRequestId(), Caller{}, "caller", nil)
	require.NotNil(t, err)
	require.Equal(t, apperr.Validation, err.Kind)
}

func TestRegisterRejectsNoTestCases(t *testing.T) {
	reg := NewRegistry()
	err := register(reg, "Echo", 0, Adapt[echoReq, echoResp](echoRoute{}))
	require.Error(t, err)
}

func TestEnforceAuthRejectsUnauthenticated(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register[echoReq, echoResp](reg, apiKeyEcho{}))
	d := New(reg, nil)

	env := value.NewEnvelope(value.New[echoReq]("EchoAuthed", echoReq{Text: "hi"}))
	_, err := d.Dispatch(context.Background(), env, ids.NewRequestId(), Caller{Authenticated: false}, "caller", nil)
	require.NotNil(t, err)
	require.Equal(t, apperr.Unauthorized, err.Kind)
}

type apiKeyEcho struct{ echoRoute }

func (apiKeyEcho) Metadata() routespec.Metadata {
	return routespec.Metadata{ID: "EchoAuthed", Auth: routespec.AuthAPIKey}
}
