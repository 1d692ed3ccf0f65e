package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/veronikaextra/backend/internal/models"
)

var (
	// ErrMissingPrompt is returned before any provider call.
	ErrMissingPrompt = errors.New("prompt is required")
	// ErrUnauthorized distinguishes "your key/account is invalid" from "the
	// model produced nothing".
	ErrUnauthorized = errors.New("unauthorized: check generation api key and model access")
	// ErrRateLimited maps to an upstream 429.
	ErrRateLimited = errors.New("rate limited by generation provider")
)

// Runner is one model invocation. Satisfied by *Client; tests inject fakes.
type Runner interface {
	Run(ctx context.Context, prompt string, seed int64) (*Output, error)
}

// Uploader offloads binary payloads to object storage, returning a public
// URL. A nil Uploader means binary outputs are inlined as data URIs.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Service fans a generation request out into independent provider calls and
// normalizes the results into a uniform image list.
type Service struct {
	runner    Runner
	uploader  Uploader
	maxImages int
	log       *slog.Logger
	now       func() time.Time
}

func NewService(runner Runner, uploader Uploader, maxImages int, log *slog.Logger) *Service {
	if maxImages < 1 {
		maxImages = 1
	}
	return &Service{
		runner:    runner,
		uploader:  uploader,
		maxImages: maxImages,
		log:       log,
		now:       time.Now,
	}
}

// Generate issues one provider call per requested image in parallel, waits
// for all of them to settle, and returns the successful images. Batch calls
// with n>1 are avoided because some providers silently ignore per-image
// randomization in batch mode.
func (s *Service) Generate(ctx context.Context, req models.GenerationRequest) ([]models.ImageResult, error) {
	if req.Prompt == "" {
		return nil, ErrMissingPrompt
	}

	count := req.Count
	if count < 1 {
		count = 1
	}
	if count > s.maxImages {
		count = s.maxImages
	}

	type settled struct {
		index  int
		output *Output
		err    error
	}

	results := make([]settled, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.runner.Run(ctx, req.Prompt, rand.Int63())
			results[i] = settled{index: i, output: out, err: err}
		}(i)
	}
	wg.Wait()

	batchStamp := s.now().UnixMilli()
	var images []models.ImageResult
	var failures []error
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		url, err := s.normalize(ctx, r.output)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		images = append(images, models.ImageResult{
			ID:     fmt.Sprintf("img-%d-%d", batchStamp, r.index),
			URL:    url,
			Prompt: req.Prompt,
		})
	}

	for _, err := range failures {
		if s.log != nil {
			s.log.Error("generation branch failed", "prompt", req.Prompt, "err", err)
		}
	}

	if len(images) == 0 {
		return nil, s.aggregateFailure(failures)
	}
	return images, nil
}

// normalize turns a raw output into a displayable URL: remote URLs pass
// through unchanged, binary payloads become data URIs or, when an uploader
// is configured, public object-storage URLs.
func (s *Service) normalize(ctx context.Context, out *Output) (string, error) {
	if out == nil {
		return "", fmt.Errorf("model returned empty response")
	}
	if out.URL != "" {
		return out.URL, nil
	}
	if len(out.Bytes) == 0 {
		return "", fmt.Errorf("empty image buffer returned")
	}
	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, out.Bytes, "image/png")
		if err == nil {
			return url, nil
		}
		if s.log != nil {
			s.log.Error("image upload failed, falling back to data uri", "err", err)
		}
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(out.Bytes), nil
}

// aggregateFailure picks the overall error when every branch failed: an
// authorization failure anywhere dominates, then rate limiting, then the
// first error's message.
func (s *Service) aggregateFailure(failures []error) error {
	if len(failures) == 0 {
		return fmt.Errorf("failed to generate image: the model returned no valid data")
	}
	for _, err := range failures {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
	}
	for _, err := range failures {
		if errors.Is(err, ErrRateLimited) {
			return err
		}
	}
	return fmt.Errorf("model error: %w", failures[0])
}
