package mlrpc

import (
	"context"
	"net"
	"testing"

	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeService implements just enough of the hand-rolled service
// surface to exercise the JSON codec and streaming plumbing end to
// end, standing in for the external ML service in tests.
type fakeService struct{}

func (fakeService) loadModel(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req struct {
		ModelID      string `json:"model_id"`
		PipelineType string `json:"pipeline_type"`
	}
	if err := dec(&req); err != nil {
		return nil, err
	}
	return models.LoadResult{RAMBytes: 1024, VRAMBytes: 0}, nil
}

func (fakeService) generateText(_ any, stream grpc.ServerStream) error {
	var req models.GenerateRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	if err := stream.SendMsg(models.TextDelta{Text: "hel"}); err != nil {
		return err
	}
	return stream.SendMsg(models.TextDelta{Text: "lo", Done: true})
}

func newTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	svc := fakeService{}
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tabagent.mlrpc.MLService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "LoadModel", Handler: svc.loadModel},
		},
		Streams: []grpc.StreamDesc{
			{StreamName: "GenerateText", Handler: svc.generateText, ServerStreams: true, ClientStreams: true},
		},
	}, svc)

	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return &Client{conn: conn}, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestLoadModelRoundTrip(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	result, appErr := c.LoadModel(context.Background(), "m1", models.PipelineTextGeneration, nil)
	require.Nil(t, appErr)
	require.Equal(t, int64(1024), result.RAMBytes)
}

func TestGenerateTextStreams(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	out, errs := c.GenerateText(context.Background(), models.GenerateRequest{ModelID: "m1", Prompt: "hi"})

	var text string
	for delta := range out {
		text += delta.Text
	}
	require.Equal(t, "hello", text)
	require.NoError(t, drain(errs))
}

func drain(errs <-chan error) error {
	for err := range errs {
		return err
	}
	return nil
}
