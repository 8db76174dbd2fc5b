// Package mlrpc is the External ML RPC Client (spec §4.9): a typed
// stub over a gRPC transport to the external ML service responsible
// for model loading, text/chat generation, embeddings, and vision
// streaming. Request/response bodies are plain Go structs carried
// over grpc's connection, stream, and cancellation machinery via a
// JSON call-content-subtype codec (see codec.go) rather than
// protoc-generated message types, since no protoc invocation runs in
// this build.
package mlrpc

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// jsonCallOption selects the JSON codec for every call this client
// makes; the ML service is expected to speak the same codec.
var jsonCallOption = grpc.CallContentSubtype(jsonCodecName)

// serviceName is the gRPC service path every method is invoked
// against, mirroring a conventional protoc-generated FullMethod string
// even though no .proto file is compiled in this build.
const serviceName = "/tabagent.mlrpc.MLService/"

// Client is a connection to one external ML service instance. It owns
// the underlying *grpc.ClientConn and is safe for concurrent use by
// multiple route handlers, matching the teacher's ModelRouter sharing
// one *http.Client across requests.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a gRPC connection to target (host:port, e.g. config's
// MLEndpoint). The connection is insecure transport-credential by
// default: the ML service is expected to run as a local sidecar, the
// same trust boundary the teacher's provider drivers assume for
// Ollama's default http://localhost endpoint.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial ml service: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// retryableRead retries fn with backoff, per §4.9 "idempotent read
// operations may retry on transient transport errors". Mutating
// operations (load_model, unload_model) must NOT use this — they are
// at-most-once and call their RPC directly.
func retryableRead(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(fn, b)
}

// LoadModel prepares pipelineType for modelID on the ML service
// (§4.9 load_model). Mutating; at-most-once, no retry.
func (c *Client) LoadModel(ctx context.Context, modelID ids.ModelId, pipelineType models.PipelineType, options map[string]string) (*models.LoadResult, *apperr.Error) {
	type req struct {
		ModelID      ids.ModelId          `json:"model_id"`
		PipelineType models.PipelineType  `json:"pipeline_type"`
		Options      map[string]string    `json:"options,omitempty"`
	}
	var resp models.LoadResult
	if err := c.conn.Invoke(ctx, serviceName+"LoadModel", req{modelID, pipelineType, options}, &resp, jsonCallOption); err != nil {
		return nil, apperr.Wrap(apperr.Backend, "load_model rpc", err)
	}
	return &resp, nil
}

// UnloadModel releases modelID's resources on the ML service. Mutating;
// at-most-once, no retry.
func (c *Client) UnloadModel(ctx context.Context, modelID ids.ModelId) *apperr.Error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, serviceName+"UnloadModel", struct {
		ModelID ids.ModelId `json:"model_id"`
	}{modelID}, &resp, jsonCallOption); err != nil {
		return apperr.Wrap(apperr.Backend, "unload_model rpc", err)
	}
	return nil
}

// GenerateEmbeddings returns one vector per text, using modelID. Read
// path; retried on transient transport errors.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string, modelID ids.ModelId) ([][]float32, *apperr.Error) {
	var resp struct {
		Vectors [][]float32 `json:"vectors"`
	}
	op := func() error {
		return c.conn.Invoke(ctx, serviceName+"GenerateEmbeddings", struct {
			Texts   []string    `json:"texts"`
			ModelID ids.ModelId `json:"model_id"`
		}{texts, modelID}, &resp, jsonCallOption)
	}
	if err := retryableRead(ctx, op); err != nil {
		return nil, apperr.Wrap(apperr.Backend, "generate_embeddings rpc", err)
	}
	return resp.Vectors, nil
}

// GenerateText streams TextDelta fragments for req onto the returned
// channel, closing it (and its error companion) when the server ends
// the stream or ctx is cancelled. Read path, no automatic retry on the
// stream itself (a partially-consumed stream is not safely retryable).
func (c *Client) GenerateText(ctx context.Context, req models.GenerateRequest) (<-chan models.TextDelta, <-chan error) {
	out := make(chan models.TextDelta)
	errs := make(chan error, 1)

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, serviceName+"GenerateText", jsonCallOption)
	if err != nil {
		errs <- fmt.Errorf("open generate_text stream: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	if err := stream.SendMsg(req); err != nil {
		errs <- fmt.Errorf("send generate_text request: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	if err := stream.CloseSend(); err != nil {
		errs <- fmt.Errorf("close generate_text send: %w", err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)
		for {
			var delta models.TextDelta
			if err := stream.RecvMsg(&delta); err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}
	}()
	return out, errs
}

// ChatCompletion streams ChatDelta fragments for messages on modelID at
// temperature. Same streaming/cancellation shape as GenerateText.
func (c *Client) ChatCompletion(ctx context.Context, messages []models.ChatMessage, modelID ids.ModelId, temperature float32) (<-chan models.ChatDelta, <-chan error) {
	out := make(chan models.ChatDelta)
	errs := make(chan error, 1)

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, serviceName+"ChatCompletion", jsonCallOption)
	if err != nil {
		errs <- fmt.Errorf("open chat_completion stream: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	req := struct {
		Messages    []models.ChatMessage `json:"messages"`
		ModelID     ids.ModelId          `json:"model_id"`
		Temperature float32              `json:"temperature"`
	}{messages, modelID, temperature}
	if err := stream.SendMsg(req); err != nil {
		errs <- fmt.Errorf("send chat_completion request: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	if err := stream.CloseSend(); err != nil {
		errs <- fmt.Errorf("close chat_completion send: %w", err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)
		for {
			var delta models.ChatDelta
			if err := stream.RecvMsg(&delta); err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}
	}()
	return out, errs
}

// RequestModelFile opens the GetModelFile server stream (§4.3/§4.9)
// for path within modelID and forwards each received ChunkFrame on the
// returned channel until a frame marked IsLast arrives. This package
// holds only this client side: it does not serve GetModelFile, so the
// ML service cannot call back into the local Model Cache through it.
func (c *Client) RequestModelFile(ctx context.Context, modelID ids.ModelId, path string) (<-chan models.ChunkFrame, <-chan error) {
	out := make(chan models.ChunkFrame)
	errs := make(chan error, 1)

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, serviceName+"GetModelFile", jsonCallOption)
	if err != nil {
		errs <- fmt.Errorf("open get_model_file stream: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	req := struct {
		ModelID ids.ModelId `json:"model_id"`
		Path    string      `json:"path"`
	}{modelID, path}
	if err := stream.SendMsg(req); err != nil {
		errs <- fmt.Errorf("send get_model_file request: %w", err)
		close(out)
		close(errs)
		return out, errs
	}
	if err := stream.CloseSend(); err != nil {
		errs <- fmt.Errorf("close get_model_file send: %w", err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)
		for {
			var frame models.ChunkFrame
			if err := stream.RecvMsg(&frame); err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			if frame.IsLast {
				return
			}
		}
	}()
	return out, errs
}

// VisionStream opens a streaming call for the given vision kind,
// sending each VideoFrame from frames and returning a channel of
// results as they arrive. Closing frames (or cancelling ctx) ends the
// call.
func (c *Client) VisionStream(ctx context.Context, kind models.VisionKind, frames <-chan models.VideoFrame) (<-chan models.VisionResult, <-chan error) {
	out := make(chan models.VisionResult)
	errs := make(chan error, 1)

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, serviceName+visionMethod(kind), jsonCallOption)
	if err != nil {
		errs <- fmt.Errorf("open vision stream: %w", err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer func() {
			if err := stream.CloseSend(); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := stream.SendMsg(frame); err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
			}
		}
	}()

	go func() {
		defer close(out)
		defer close(errs)
		for {
			var res models.VisionResult
			if err := stream.RecvMsg(&res); err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

func visionMethod(kind models.VisionKind) string {
	switch kind {
	case models.VisionFace:
		return "DetectFace"
	case models.VisionHand:
		return "DetectHand"
	case models.VisionPose:
		return "DetectPose"
	case models.VisionMesh:
		return "DetectMesh"
	case models.VisionIris:
		return "DetectIris"
	case models.VisionSegmentation:
		return "Segment"
	default:
		return "DetectFace"
	}
}

// defaultOperationTimeout bounds any call a route handler does not
// scope with its own deadline, per §4.9 "timeouts: per-operation".
const defaultOperationTimeout = 30 * time.Second

// WithDefaultTimeout returns a context bounded by
// defaultOperationTimeout when ctx carries no deadline of its own.
func WithDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultOperationTimeout)
}
