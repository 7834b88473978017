// Package simulated provides deterministic stand-ins for the external AI
// capabilities. URLs are derived from a counter so runs are reproducible.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/davidroman0O/studioflow/internal/capability"
	"github.com/sasha-s/go-deadlock"
)

const DefaultBaseURL = "https://cdn.studioflow.local"

type Config struct {
	BaseURL string
	// QualityScores are returned in order by ScoreQuality, the last one
	// repeats once exhausted.
	QualityScores []int
	Latency       time.Duration
	// Failures maps an operation name to how many calls fail before it
	// starts succeeding.
	Failures map[string]int
}

type Option func(*Config)

func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = strings.TrimRight(url, "/")
	}
}

func WithQualityScores(scores ...int) Option {
	return func(c *Config) {
		c.QualityScores = scores
	}
}

func WithLatency(d time.Duration) Option {
	return func(c *Config) {
		c.Latency = d
	}
}

func WithFailures(operation string, n int) Option {
	return func(c *Config) {
		if c.Failures == nil {
			c.Failures = map[string]int{}
		}
		c.Failures[operation] = n
	}
}

// Studio implements every capability interface.
type Studio struct {
	mu     deadlock.Mutex
	config Config
	seq    int
	calls  map[string]int
	scores int
}

func New(opts ...Option) *Studio {
	cfg := Config{
		BaseURL:       DefaultBaseURL,
		QualityScores: []int{95},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Studio{config: cfg, calls: map[string]int{}}
}

// Adapters returns the studio wired into every slot.
func (s *Studio) Adapters() capability.Adapters {
	return capability.Adapters{
		Images:  s,
		Prompts: s,
		Quality: s,
		Video:   s,
		Pose:    s,
		Frames:  s,
		Trainer: s,
		Archive: s,
	}
}

// Calls reports how many times operation was invoked.
func (s *Studio) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

func (s *Studio) enter(ctx context.Context, operation string) error {
	if s.config.Latency > 0 {
		select {
		case <-time.After(s.config.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[operation]++
	if s.calls[operation] <= s.config.Failures[operation] {
		return fmt.Errorf("%s: simulated provider failure", operation)
	}
	return nil
}

func (s *Studio) url(kind, ext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s/%s/%04d.%s", s.config.BaseURL, kind, s.seq, ext)
}

func (s *Studio) GenerateImages(ctx context.Context, req capability.ImageRequest) ([]string, error) {
	if err := s.enter(ctx, "images"); err != nil {
		return nil, err
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		urls = append(urls, s.url("images", "png"))
	}
	return urls, nil
}

func (s *Studio) GeneratePrompt(ctx context.Context, req capability.PromptRequest) (string, error) {
	if err := s.enter(ctx, "prompts"); err != nil {
		return "", err
	}
	return fmt.Sprintf("cinematic fashion scene, %s wearing %s (%s), %s background, %s, %s frame",
		req.AvatarName, req.ProductName, req.ProductType, req.Background, req.Action, req.VideoSize), nil
}

func (s *Studio) ScoreQuality(ctx context.Context, imageURL string) (int, error) {
	if err := s.enter(ctx, "quality"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.config.QualityScores) == 0 {
		return 100, nil
	}
	idx := s.scores
	if idx >= len(s.config.QualityScores) {
		idx = len(s.config.QualityScores) - 1
	}
	s.scores++
	return s.config.QualityScores[idx], nil
}

func (s *Studio) SynthesizeVideo(ctx context.Context, req capability.VideoRequest) (string, error) {
	if err := s.enter(ctx, "video"); err != nil {
		return "", err
	}
	return s.url("videos", "mp4"), nil
}

func (s *Studio) ExtractPose(ctx context.Context, imageURL string) (string, error) {
	if err := s.enter(ctx, "pose"); err != nil {
		return "", err
	}
	return s.url("poses", "png"), nil
}

func (s *Studio) SampleFrames(ctx context.Context, videoURL string, fps int, max int) ([]string, error) {
	if err := s.enter(ctx, "frames"); err != nil {
		return nil, err
	}
	if max < 1 {
		max = 1
	}
	frames := make([]string, 0, max)
	for i := 0; i < max; i++ {
		frames = append(frames, s.url("frames", "png"))
	}
	return frames, nil
}

func (s *Studio) TrainLoRA(ctx context.Context, req capability.TrainRequest) (capability.TrainResult, error) {
	if err := s.enter(ctx, "trainer"); err != nil {
		return capability.TrainResult{}, err
	}
	return capability.TrainResult{
		WeightsURL: s.url("loras", "safetensors"),
		ConfigURL:  s.url("loras", "json"),
	}, nil
}

func (s *Studio) PackageImages(ctx context.Context, name string, urls []string) (string, error) {
	if err := s.enter(ctx, "archive"); err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("packaging %s: no images", name)
	}
	return s.url("archives/"+name, "zip"), nil
}
