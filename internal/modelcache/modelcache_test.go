package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeFetcher writes a fixed payload starting at the requested offset,
// as a real Range-request-capable Fetcher would.
type fakeFetcher struct {
	payload   []byte
	failUntil int32 // Fetch fails with this many calls before succeeding
	calls     int32
}

func (f *fakeFetcher) Fetch(_ context.Context, _ ids.ModelId, _ string, offset int64, w io.Writer) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failUntil {
		// Simulate a transient failure partway through: write nothing.
		return "", errTransient
	}
	if offset > int64(len(f.payload)) {
		offset = int64(len(f.payload))
	}
	if _, err := w.Write(f.payload[offset:]); err != nil {
		return "", err
	}
	sum := sha256.Sum256(f.payload)
	return hex.EncodeToString(sum[:]), nil
}

var errTransient = apperr.New(apperr.Backend, "simulated transient network failure")

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestDownloadFileHashVerificationRoundTrip(t *testing.T) {
	root := t.TempDir()
	payload := []byte("this is a fake model artifact's bytes")
	f := &fakeFetcher{payload: payload}
	c := New(root, 0, 0, f, zerolog.Nop())

	require.False(t, c.HasFile("m1", "weights.bin"))

	err := c.DownloadFile(context.Background(), "m1", "weights.bin", hashOf(payload), nil)
	require.Nil(t, err)
	require.True(t, c.HasFile("m1", "weights.bin"))

	path, gerr := c.GetFilePath("m1", "weights.bin")
	require.Nil(t, gerr)
	got, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	require.Equal(t, payload, got)

	// The partial sidecar must not survive a successful download.
	_, statErr := os.Stat(filepath.Join(root, "m1", "weights.bin.partial"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDownloadFileRejectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	payload := []byte("content that will not match the declared hash")
	f := &fakeFetcher{payload: payload}
	c := New(root, 0, 0, f, zerolog.Nop())

	err := c.DownloadFile(context.Background(), "m1", "weights.bin", "deadbeef", nil)
	require.NotNil(t, err)
	require.Equal(t, apperr.Backend, err.Kind)
	require.False(t, c.HasFile("m1", "weights.bin"))
}

func TestDownloadFileResumesFromPartialOffsetWithoutDuplicating(t *testing.T) {
	root := t.TempDir()
	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")

	// Pre-seed a partial file as if a prior attempt wrote the first half
	// before being interrupted.
	partialDir := filepath.Join(root, "m1")
	require.NoError(t, os.MkdirAll(partialDir, 0o755))
	half := len(payload) / 2
	require.NoError(t, os.WriteFile(filepath.Join(partialDir, "weights.bin.partial"), payload[:half], 0o644))

	f := &fakeFetcher{payload: payload}
	c := New(root, 0, 0, f, zerolog.Nop())

	err := c.DownloadFile(context.Background(), "m1", "weights.bin", hashOf(payload), nil)
	require.Nil(t, err)

	path, gerr := c.GetFilePath("m1", "weights.bin")
	require.Nil(t, gerr)
	got, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	// Had the Fetcher re-sent from byte 0 onto an O_APPEND handle, this
	// would contain the first half twice.
	require.Equal(t, payload, got)
}

func TestDownloadFileCoalescesConcurrentCallers(t *testing.T) {
	root := t.TempDir()
	payload := []byte("shared artifact bytes")
	f := &fakeFetcher{payload: payload}
	c := New(root, 0, 0, f, zerolog.Nop())

	const n = 8
	errs := make(chan *apperr.Error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- c.DownloadFile(context.Background(), "m1", "weights.bin", hashOf(payload), nil)
		}()
	}
	for i := 0; i < n; i++ {
		require.Nil(t, <-errs)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestDownloadFileWithoutFetcherConfigured(t *testing.T) {
	root := t.TempDir()
	c := New(root, 0, 0, nil, zerolog.Nop())
	err := c.DownloadFile(context.Background(), "m1", "weights.bin", "", nil)
	require.NotNil(t, err)
	require.Equal(t, apperr.PreconditionFailed, err.Kind)
}
