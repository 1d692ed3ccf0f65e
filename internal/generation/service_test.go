package generation_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veronikaextra/backend/internal/generation"
	"github.com/veronikaextra/backend/internal/models"
)

// fakeRunner settles each call with the result produced by run, keeping a
// call count so tests can assert exact fan-out sizes.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   func(call int) (*generation.Output, error)
}

func (f *fakeRunner) Run(ctx context.Context, prompt string, seed int64) (*generation.Output, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	return f.run(call)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func urlRunner() *fakeRunner {
	return &fakeRunner{run: func(call int) (*generation.Output, error) {
		return &generation.Output{URL: fmt.Sprintf("https://cdn.example.com/%d.png", call)}, nil
	}}
}

func TestGenerateFanOutAndClamp(t *testing.T) {
	tests := map[string]struct {
		requested int
		maxImages int
		wantCalls int
	}{
		"in range":        {requested: 3, maxImages: 6, wantCalls: 3},
		"single":          {requested: 1, maxImages: 6, wantCalls: 1},
		"zero clamps low": {requested: 0, maxImages: 6, wantCalls: 1},
		"negative clamps": {requested: -2, maxImages: 6, wantCalls: 1},
		"above max":       {requested: 8, maxImages: 6, wantCalls: 6},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := urlRunner()
			svc := generation.NewService(runner, nil, tc.maxImages, nil)

			images, err := svc.Generate(context.Background(), models.GenerationRequest{
				Prompt: "a red fox",
				Count:  tc.requested,
			})
			require.NoError(t, err)
			require.Equal(t, tc.wantCalls, runner.callCount())
			require.Len(t, images, tc.wantCalls)
		})
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	runner := urlRunner()
	svc := generation.NewService(runner, nil, 6, nil)

	_, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "", Count: 2})
	require.ErrorIs(t, err, generation.ErrMissingPrompt)
	require.Equal(t, 0, runner.callCount(), "empty prompt must be rejected before any provider call")
}

func TestGenerateNormalization(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		switch call {
		case 0:
			return &generation.Output{URL: "https://cdn.example.com/fox.png"}, nil
		case 1:
			return &generation.Output{Bytes: []byte{0x89, 0x50, 0x4e, 0x47}}, nil
		default:
			return &generation.Output{Bytes: nil}, nil // empty buffer is a per-image failure
		}
	}}
	svc := generation.NewService(runner, nil, 6, nil)

	images, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 3})
	require.NoError(t, err)
	require.Len(t, images, 2, "the empty-buffer branch is dropped")

	byURL := map[string]bool{}
	for _, img := range images {
		byURL[img.URL] = true
		require.Equal(t, "a red fox", img.Prompt)
		require.NotEmpty(t, img.ID)
	}
	require.True(t, byURL["https://cdn.example.com/fox.png"], "URL output passes through unchanged")

	found := false
	for url := range byURL {
		if strings.HasPrefix(url, "data:image/png;base64,") && len(url) > len("data:image/png;base64,") {
			found = true
		}
	}
	require.True(t, found, "binary output becomes a data URI with a non-empty payload")
}

func TestGenerateUniqueIDsWithinBatch(t *testing.T) {
	svc := generation.NewService(urlRunner(), nil, 6, nil)
	images, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 4})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, img := range images {
		require.False(t, seen[img.ID], "duplicate id %s", img.ID)
		seen[img.ID] = true
	}
}

func TestGeneratePartialFailureReturnsSuccesses(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		if call%2 == 0 {
			return nil, fmt.Errorf("model timeout")
		}
		return &generation.Output{URL: "https://cdn.example.com/ok.png"}, nil
	}}
	svc := generation.NewService(runner, nil, 6, nil)

	images, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 4})
	require.NoError(t, err, "partial failure still takes the success path")
	require.Len(t, images, 2)
}

func TestGenerateAllFailed(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		return nil, fmt.Errorf("model exploded on call %d", call)
	}}
	svc := generation.NewService(runner, nil, 6, nil)

	_, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 3})
	require.Error(t, err)
	require.NotErrorIs(t, err, generation.ErrUnauthorized)
}

func TestGenerateAllAuthFailures(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		return nil, fmt.Errorf("%w: bad key", generation.ErrUnauthorized)
	}}
	svc := generation.NewService(runner, nil, 6, nil)

	_, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 3})
	require.ErrorIs(t, err, generation.ErrUnauthorized)
}

func TestGenerateRateLimited(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		return nil, fmt.Errorf("%w", generation.ErrRateLimited)
	}}
	svc := generation.NewService(runner, nil, 6, nil)

	_, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 2})
	require.ErrorIs(t, err, generation.ErrRateLimited)
}

// fakeUploader records uploads and hands back deterministic URLs.
type fakeUploader struct {
	mu      sync.Mutex
	uploads int
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return fmt.Sprintf("https://images.example.com/%d.png", f.uploads), nil
}

func TestGenerateUploadsBinaryWhenConfigured(t *testing.T) {
	runner := &fakeRunner{run: func(call int) (*generation.Output, error) {
		return &generation.Output{Bytes: []byte{1, 2, 3}}, nil
	}}
	uploader := &fakeUploader{}
	svc := generation.NewService(runner, uploader, 6, nil)

	images, err := svc.Generate(context.Background(), models.GenerationRequest{Prompt: "a red fox", Count: 2})
	require.NoError(t, err)
	require.Len(t, images, 2)
	for _, img := range images {
		require.True(t, strings.HasPrefix(img.URL, "https://images.example.com/"))
	}
	require.Equal(t, 2, uploader.uploads)
}
