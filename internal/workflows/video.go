package workflows

import (
	"errors"
	"fmt"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/types"
)

const videoDuration = 5

type videoJob struct {
	ID     string
	UserID string
	Prompt string
}

type videoResult struct {
	To        recipient
	VideoURL  string
	Thumbnail string
}

func (w *Workflows) video() *registry.Definition {
	return &registry.Definition{
		Name:  "generate-video",
		Event: types.EventVideoGenerate,
		Steps: []string{
			"generate-prompt",
			"generate-scene-image",
			"quality-check",
			"generate-video",
			"finalize",
			stepNotify,
		},
		Config:     w.config(3),
		Handler:    w.generateVideo,
		Compensate: w.compensation(types.EventVideoGenerate),
	}
}

func (w *Workflows) generateVideo(wctx enginectx.WorkflowContext) error {
	var p VideoPayload
	if err := wctx.Payload(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	job, err := enginectx.Step(wctx, "generate-prompt", func(ctx types.StepContext) (videoJob, error) {
		rec, err := w.records.Start(ctx, p.JobID, "Generating prompt", 10, nil)
		if err != nil {
			return videoJob{}, fmt.Errorf("job %s: %w", p.JobID, err)
		}
		prompt, err := w.adapters.Prompts.GeneratePrompt(ctx, capability.PromptRequest{
			AvatarName:  p.AvatarName,
			ProductName: p.ProductName,
			ProductType: p.ProductType,
			Background:  p.Background,
			Action:      p.Action,
			VideoSize:   p.VideoSize,
		})
		if err != nil {
			return videoJob{}, err
		}
		if _, err := w.records.Annotate(ctx, p.JobID, types.Metadata{"generated_prompt": prompt}); err != nil {
			return videoJob{}, err
		}
		return videoJob{ID: string(rec.ID), UserID: string(rec.UserID), Prompt: prompt}, nil
	})
	if err != nil {
		return err
	}

	scene, err := enginectx.Step(wctx, "generate-scene-image", func(ctx types.StepContext) (string, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Generating scene image", 30, nil); err != nil {
			return "", err
		}
		width, height := frameSize(p.VideoSize)
		images, err := w.adapters.Images.GenerateImages(ctx, capability.ImageRequest{
			Prompt:         job.Prompt + ", professional fashion photography, high quality, 8k uhd, hyper detailed",
			NegativePrompt: negativePrompt + ", watermark, text",
			Count:          1,
			Width:          width,
			Height:         height,
		})
		if err != nil {
			return "", err
		}
		if len(images) == 0 {
			return "", errors.New("scene image generation returned nothing")
		}
		if _, err := w.records.Annotate(ctx, p.JobID, types.Metadata{"scene_image_url": images[0]}); err != nil {
			return "", err
		}
		return images[0], nil
	})
	if err != nil {
		return err
	}

	if _, err := enginectx.Step(wctx, "quality-check", func(ctx types.StepContext) (int, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Quality check", 50, nil); err != nil {
			return 0, err
		}
		score, err := w.adapters.Quality.ScoreQuality(ctx, scene)
		if err != nil {
			return 0, err
		}
		if _, err := w.records.Annotate(ctx, p.JobID, types.Metadata{"quality_score": score}); err != nil {
			return 0, err
		}
		if score < QualityThreshold {
			return 0, fmt.Errorf("%w: score %d below %d", ErrQualityGate, score, QualityThreshold)
		}
		return score, nil
	}); err != nil {
		return err
	}

	videoURL, err := enginectx.Step(wctx, "generate-video", func(ctx types.StepContext) (string, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Generating video", 70, nil); err != nil {
			return "", err
		}
		url, err := w.adapters.Video.SynthesizeVideo(ctx, capability.VideoRequest{
			ImageURL:    scene,
			Prompt:      job.Prompt,
			Duration:    videoDuration,
			AspectRatio: p.VideoSize,
		})
		if err != nil {
			return "", err
		}
		if _, err := w.records.Annotate(ctx, p.JobID, types.Metadata{"video_output_url": url}); err != nil {
			return "", err
		}
		return url, nil
	})
	if err != nil {
		return err
	}

	result, err := enginectx.Step(wctx, "finalize", func(ctx types.StepContext) (videoResult, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Finalizing", 90, nil); err != nil {
			return videoResult{}, err
		}
		to, err := w.recipientOf(ctx, types.UserID(job.UserID))
		if err != nil {
			return videoResult{}, err
		}
		// the scene image doubles as the thumbnail
		if _, err := w.records.Complete(ctx, p.JobID, types.Patch{
			OutputURL:    types.Ptr(videoURL),
			ThumbnailURL: types.Ptr(scene),
		}); err != nil {
			return videoResult{}, err
		}
		return videoResult{To: to, VideoURL: videoURL, Thumbnail: scene}, nil
	})
	if err != nil {
		return err
	}

	return w.notifyStep(wctx, result.To, notify.TemplateVideoComplete, notify.Data{
		VideoURL:     result.VideoURL,
		ThumbnailURL: result.Thumbnail,
		RecordID:     job.ID,
	})
}
