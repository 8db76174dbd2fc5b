// Package nativemsg is the length-prefixed stdio transport adapter
// from spec §4.2 ("browser-extension convention"): each frame is a
// 4-byte little-endian length prefix followed by a UTF-8 JSON payload,
// capped at 1 MiB (0x100000 bytes). An invalid prefix or an oversize
// frame is a protocol error, not a panic or a silent drop.
//
// Grounded on the teacher's stdio-framed integrations (LangChain/MCP
// gateway use a comparable length-prefixed framing over os.Stdin/
// os.Stdout) generalized to route every frame through the same
// dispatch.Dispatcher the HTTP adapter uses.
package nativemsg

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/ocentra/tabagentd/internal/dispatch"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/stream"
	"github.com/ocentra/tabagentd/pkg/value"
	"github.com/rs/zerolog"
)

// maxFrameBytes is spec §4.2's exact ceiling: "4-byte little-endian
// length (u32), max 0x100000".
const maxFrameBytes = 0x100000

var errOversizeFrame = errors.New("nativemsg: frame exceeds maximum size")

// envelope is the wire shape carried inside each length-prefixed
// frame: a route discriminant plus its raw JSON request body.
type envelope struct {
	RequestID string          `json:"request_id,omitempty"`
	Route     string          `json:"route"`
	Body      json.RawMessage `json:"body"`
}

type frameOut struct {
	RequestID string          `json:"request_id,omitempty"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"data,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    apperr.Kind    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Adapter drives the length-prefixed framing over an arbitrary
// io.Reader/io.Writer pair (os.Stdin/os.Stdout in production, an
// in-memory pipe in tests).
type Adapter struct {
	disp  *dispatch.Dispatcher
	state any
	log   zerolog.Logger

	writeMu sync.Mutex
}

// New builds a nativemsg Adapter over a populated Dispatcher.
func New(disp *dispatch.Dispatcher, state any, log zerolog.Logger) *Adapter {
	return &Adapter{disp: disp, state: state, log: log}
}

// Serve reads length-prefixed frames from r until EOF or ctx is
// canceled, dispatching each to disp and writing a length-prefixed
// response frame to w. One request is handled at a time per the
// stdio transport's single in-flight-stream assumption; concurrent
// callers should multiplex at a higher layer.
func (a *Adapter) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := readFrame(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			a.writeError(w, "", apperr.Wrap(apperr.Protocol, "frame read failed", err))
			continue
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.writeError(w, "", apperr.Wrap(apperr.Protocol, "malformed frame envelope", err))
			continue
		}

		a.handle(ctx, env, w)
	}
}

func (a *Adapter) handle(ctx context.Context, env envelope, w io.Writer) {
	reqID := ids.RequestId(env.RequestID)
	if reqID.Empty() {
		reqID = ids.NewRequestId()
	}

	caller := dispatch.Caller{Authenticated: true, AuthClass: routespec.AuthInternal}

	out, derr := a.disp.DispatchDecoded(ctx, value.ValueType(env.Route), env.Body, reqID, caller, "stdio", a.state)
	if derr != nil {
		a.writeError(w, string(reqID), derr)
		return
	}

	if streamer, ok := out.Payload().(stream.JSONStreamer); ok {
		a.streamFrames(ctx, string(reqID), streamer, w)
		return
	}

	raw, merr := json.Marshal(out.Payload())
	if merr != nil {
		a.writeError(w, string(reqID), apperr.Wrap(apperr.Internal, "marshal response payload", merr))
		return
	}
	a.writeFrame(w, frameOut{RequestID: string(reqID), Success: true, Payload: raw})
}

func (a *Adapter) streamFrames(ctx context.Context, reqID string, s stream.JSONStreamer, w io.Writer) {
	for {
		frame, done, err := s.NextJSON(ctx)
		if err != nil {
			a.writeError(w, reqID, apperr.Wrap(apperr.Backend, "stream terminated", err))
			return
		}
		if frame != nil {
			a.writeFrame(w, frameOut{RequestID: reqID, Success: true, Payload: frame})
		}
		if done {
			return
		}
	}
}

func (a *Adapter) writeError(w io.Writer, reqID string, err *apperr.Error) {
	a.writeFrame(w, frameOut{
		RequestID: reqID,
		Success:   false,
		Error:     &wireError{Code: err.Kind, Message: err.Message, Details: err.Details},
	})
}

func (a *Adapter) writeFrame(w io.Writer, f frameOut) {
	raw, err := json.Marshal(f)
	if err != nil {
		a.log.Error().Err(err).Msg("nativemsg: failed to marshal outbound frame")
		return
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if werr := writeFrame(w, raw); werr != nil {
		a.log.Error().Err(werr).Msg("nativemsg: failed to write outbound frame")
	}
}

// readFrame reads one 4-byte little-endian length prefix followed by
// that many bytes of JSON, rejecting frames over maxFrameBytes.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, errOversizeFrame
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes payload with its 4-byte little-endian length
// prefix, the mirror of readFrame.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
