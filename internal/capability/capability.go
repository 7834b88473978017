package capability

import (
	"context"
	"errors"
)

var ErrMissingAdapter = errors.New("capability adapter not configured")

type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Count          int
	Width          int
	Height         int
	LoRAURL        string
	LoRAScale      float64
}

type PromptRequest struct {
	AvatarName  string
	ProductName string
	ProductType string
	Background  string
	Action      string
	VideoSize   string
}

type VideoRequest struct {
	ImageURL    string
	Prompt      string
	Duration    int
	AspectRatio string
}

type TrainRequest struct {
	ZipURL      string
	TriggerWord string
	Steps       int
}

type TrainResult struct {
	WeightsURL string
	ConfigURL  string
}

type ImageGenerator interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]string, error)
}

type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, req PromptRequest) (string, error)
}

// QualityScorer rates an image from 0 to 100.
type QualityScorer interface {
	ScoreQuality(ctx context.Context, imageURL string) (int, error)
}

type VideoSynthesizer interface {
	SynthesizeVideo(ctx context.Context, req VideoRequest) (string, error)
}

type PoseExtractor interface {
	ExtractPose(ctx context.Context, imageURL string) (string, error)
}

type FrameSampler interface {
	SampleFrames(ctx context.Context, videoURL string, fps int, max int) ([]string, error)
}

type Trainer interface {
	TrainLoRA(ctx context.Context, req TrainRequest) (TrainResult, error)
}

// Archiver packages a set of images into one downloadable archive.
type Archiver interface {
	PackageImages(ctx context.Context, name string, urls []string) (string, error)
}

// Adapters bundles every external capability the workflows call.
type Adapters struct {
	Images  ImageGenerator
	Prompts PromptGenerator
	Quality QualityScorer
	Video   VideoSynthesizer
	Pose    PoseExtractor
	Frames  FrameSampler
	Trainer Trainer
	Archive Archiver
}

// Validate returns every missing adapter at once.
func (a Adapters) Validate() error {
	var errs []error
	check := func(name string, missing bool) {
		if missing {
			errs = append(errs, errors.Join(ErrMissingAdapter, errors.New(name)))
		}
	}
	check("images", a.Images == nil)
	check("prompts", a.Prompts == nil)
	check("quality", a.Quality == nil)
	check("video", a.Video == nil)
	check("pose", a.Pose == nil)
	check("frames", a.Frames == nil)
	check("trainer", a.Trainer == nil)
	check("archive", a.Archive == nil)
	return errors.Join(errs...)
}
