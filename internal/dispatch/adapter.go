package dispatch

import (
	"context"
	"encoding/json"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/value"
)

// registeredRoute is the non-generic face every registered Route is
// reduced to, so the Dispatcher can hold a single map[ValueType]entry
// registry despite each Route[Req,Resp] having distinct type
// parameters. routeAdapter below is the only place that bridges the
// two — every other package only ever sees registeredRoute.
type registeredRoute interface {
	Metadata() routespec.Metadata
	Dispatch(ctx context.Context, env value.Envelope, state any) (value.Envelope, *apperr.Error)
	// DecodeJSON builds an Envelope from a raw JSON request body, the
	// step transport adapters need before they have a typed Req to
	// hand the dispatcher — every transport (httpx, nativemsg,
	// mcpstdio) speaks JSON on the wire (spec §4.2), so this lives
	// once here rather than once per adapter.
	DecodeJSON(raw []byte) (value.Envelope, *apperr.Error)
}

type routeAdapter[Req any, Resp any] struct {
	route routespec.Route[Req, Resp]
}

// Adapt wraps a concrete, typed Route into the dispatcher's registry
// entry type. It is the single generic→dynamic boundary crossing in
// the dispatch package.
func Adapt[Req any, Resp any](r routespec.Route[Req, Resp]) registeredRoute {
	return routeAdapter[Req, Resp]{route: r}
}

func (a routeAdapter[Req, Resp]) Metadata() routespec.Metadata {
	return a.route.Metadata()
}

func (a routeAdapter[Req, Resp]) Dispatch(ctx context.Context, env value.Envelope, state any) (value.Envelope, *apperr.Error) {
	md := a.route.Metadata()

	typed, err := value.As[Req](env, md.ID)
	if err != nil {
		return value.Envelope{}, apperr.Wrap(apperr.Protocol, "request payload did not match route discriminant", err)
	}
	req := typed.Get()

	if verr := a.route.Validate(req); verr != nil {
		return value.Envelope{}, verr
	}

	resp, herr := a.route.Handle(ctx, req, state)
	if herr != nil {
		return value.Envelope{}, herr
	}

	out := value.New[Resp](md.ID, resp)
	return value.NewEnvelope(out), nil
}

func (a routeAdapter[Req, Resp]) DecodeJSON(raw []byte) (value.Envelope, *apperr.Error) {
	var req Req
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return value.Envelope{}, apperr.Wrap(apperr.Protocol, "malformed request body", err)
		}
	}
	return value.NewEnvelope(value.New[Req](a.route.Metadata().ID, req)), nil
}
