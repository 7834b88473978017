package workflows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/types"
)

const (
	sampleFPS       = 1
	maxSampleFrames = 30
	transferPrompt  = "smooth natural movement, professional fashion video, high quality"
)

type sampledVideo struct {
	JobID  string
	UserID string
	Frames []string
}

type pose struct {
	PoseURL    string
	FrameCount int
}

type transferAssets struct {
	AvatarName  string
	TriggerWord string
	WeightsURL  string
	Products    []string
}

// framePrompt builds the replacement frame prompt from the avatar trigger
// word and the products worn.
func framePrompt(assets transferAssets) string {
	var b strings.Builder
	if assets.TriggerWord != "" {
		b.WriteString(assets.TriggerWord + " ")
	}
	b.WriteString("professional fashion model, ")
	if len(assets.Products) > 0 {
		b.WriteString("wearing " + strings.Join(assets.Products, ", ") + ", ")
	}
	b.WriteString("high quality commercial photography, full body shot")
	return b.String()
}

func (w *Workflows) transfer() *registry.Definition {
	return &registry.Definition{
		Name:  "video-transfer",
		Event: types.EventVideoTransfer,
		Steps: []string{
			"download-video",
			"extract-pose",
			"load-assets",
			"generate-frame",
			"animate-video",
			"finalize",
			stepNotify,
		},
		Config:     w.config(2),
		Handler:    w.transferVideo,
		Compensate: w.compensation(types.EventVideoTransfer),
	}
}

func (w *Workflows) transferVideo(wctx enginectx.WorkflowContext) error {
	var p TransferPayload
	if err := wctx.Payload(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	source, err := enginectx.Step(wctx, "download-video", func(ctx types.StepContext) (sampledVideo, error) {
		rec, err := w.records.Start(ctx, p.JobID, "Extracting frames", 5, nil)
		if err != nil {
			return sampledVideo{}, fmt.Errorf("transfer job %s: %w", p.JobID, err)
		}
		frames, err := w.adapters.Frames.SampleFrames(ctx, p.SourceVideoURL, sampleFPS, maxSampleFrames)
		if err != nil {
			return sampledVideo{}, err
		}
		if len(frames) == 0 {
			return sampledVideo{}, errors.New("source video produced no frames")
		}
		return sampledVideo{JobID: string(rec.ID), UserID: string(rec.UserID), Frames: frames}, nil
	})
	if err != nil {
		return err
	}

	extracted, err := enginectx.Step(wctx, "extract-pose", func(ctx types.StepContext) (pose, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Extracting pose", 20, nil); err != nil {
			return pose{}, err
		}
		url, err := w.adapters.Pose.ExtractPose(ctx, source.Frames[0])
		if err != nil {
			return pose{}, err
		}
		return pose{PoseURL: url, FrameCount: len(source.Frames)}, nil
	})
	if err != nil {
		return err
	}

	assets, err := enginectx.Step(wctx, "load-assets", func(ctx types.StepContext) (transferAssets, error) {
		avatar, err := w.records.Get(ctx, p.AvatarID)
		if err != nil {
			return transferAssets{}, fmt.Errorf("avatar %s: %w", p.AvatarID, err)
		}
		assets := transferAssets{AvatarName: avatar.Name, WeightsURL: avatar.WeightsURL}
		if word, ok := avatar.Metadata["trigger_word"].(string); ok {
			assets.TriggerWord = word
		}
		for _, product := range p.Products {
			assets.Products = append(assets.Products, product.Name)
		}
		return assets, nil
	})
	if err != nil {
		return err
	}

	frame, err := enginectx.Step(wctx, "generate-frame", func(ctx types.StepContext) (string, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Generating frame", 40, types.Metadata{
			"pose_url":    extracted.PoseURL,
			"frame_count": extracted.FrameCount,
		}); err != nil {
			return "", err
		}
		req := capability.ImageRequest{
			Prompt: framePrompt(assets),
			Count:  1,
			Width:  1024,
			Height: 1536,
		}
		if assets.WeightsURL != "" {
			req.LoRAURL = assets.WeightsURL
			req.LoRAScale = 1.0
		}
		images, err := w.adapters.Images.GenerateImages(ctx, req)
		if err != nil {
			return "", err
		}
		if len(images) == 0 {
			return "", errors.New("frame generation returned nothing")
		}
		return images[0], nil
	})
	if err != nil {
		return err
	}

	videoURL, err := enginectx.Step(wctx, "animate-video", func(ctx types.StepContext) (string, error) {
		if _, err := w.records.Progress(ctx, p.JobID, "Animating video", 70, nil); err != nil {
			return "", err
		}
		return w.adapters.Video.SynthesizeVideo(ctx, capability.VideoRequest{
			ImageURL:    frame,
			Prompt:      transferPrompt,
			Duration:    videoDuration,
			AspectRatio: "9:16",
		})
	})
	if err != nil {
		return err
	}

	to, err := enginectx.Step(wctx, "finalize", func(ctx types.StepContext) (recipient, error) {
		to, err := w.recipientOf(ctx, types.UserID(source.UserID))
		if err != nil {
			return recipient{}, err
		}
		if _, err := w.records.Complete(ctx, p.JobID, types.Patch{
			OutputURL:    types.Ptr(videoURL),
			ThumbnailURL: types.Ptr(frame),
		}); err != nil {
			return recipient{}, err
		}
		return to, nil
	})
	if err != nil {
		return err
	}

	return w.notifyStep(wctx, to, notify.TemplateVideoComplete, notify.Data{
		VideoURL:     videoURL,
		ThumbnailURL: frame,
		RecordID:     source.JobID,
	})
}
