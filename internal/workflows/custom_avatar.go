package workflows

import (
	"fmt"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/types"
	"golang.org/x/sync/errgroup"
)

const trainingSteps = 1000

type trainingData struct {
	ZipURL      string
	TriggerWord string
}

type loraWeights struct {
	WeightsURL  string
	ConfigURL   string
	TriggerWord string
}

// triggerWord is the token the trained LoRA answers to.
func triggerWord(id types.RecordID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "ohwx_" + s
}

func (w *Workflows) customAvatar() *registry.Definition {
	return &registry.Definition{
		Name:  "generate-custom-avatar",
		Event: types.EventAvatarGenerateCustom,
		Steps: []string{
			"start-training",
			"prepare-zip",
			"train-lora",
			"generate-previews",
			"finalize",
			stepNotify,
		},
		Config:     w.config(2),
		Handler:    w.generateCustomAvatar,
		Compensate: w.compensation(types.EventAvatarGenerateCustom),
	}
}

func (w *Workflows) generateCustomAvatar(wctx enginectx.WorkflowContext) error {
	var p CustomAvatarPayload
	if err := wctx.Payload(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	avatar, err := enginectx.Step(wctx, "start-training", func(ctx types.StepContext) (avatarRecord, error) {
		rec, err := w.records.Start(ctx, p.AvatarID, "Preparing", 0, types.Metadata{"stage": "preparing"})
		if err != nil {
			return avatarRecord{}, fmt.Errorf("avatar %s: %w", p.AvatarID, err)
		}
		return avatarRecord{ID: string(rec.ID), Name: rec.Name, UserID: string(rec.UserID)}, nil
	})
	if err != nil {
		return err
	}

	data, err := enginectx.Step(wctx, "prepare-zip", func(ctx types.StepContext) (trainingData, error) {
		if _, err := w.records.Progress(ctx, p.AvatarID, "Preparing training data", 10, types.Metadata{"stage": "preparing"}); err != nil {
			return trainingData{}, err
		}
		url, err := w.adapters.Archive.PackageImages(ctx, "training-"+string(p.AvatarID), p.TrainingImages)
		if err != nil {
			return trainingData{}, err
		}
		return trainingData{ZipURL: url, TriggerWord: triggerWord(p.AvatarID)}, nil
	})
	if err != nil {
		return err
	}

	lora, err := enginectx.Step(wctx, "train-lora", func(ctx types.StepContext) (loraWeights, error) {
		if _, err := w.records.Progress(ctx, p.AvatarID, "Training model", 30, types.Metadata{"stage": "training"}); err != nil {
			return loraWeights{}, err
		}
		res, err := w.adapters.Trainer.TrainLoRA(ctx, capability.TrainRequest{
			ZipURL:      data.ZipURL,
			TriggerWord: data.TriggerWord,
			Steps:       trainingSteps,
		})
		if err != nil {
			return loraWeights{}, err
		}
		return loraWeights{WeightsURL: res.WeightsURL, ConfigURL: res.ConfigURL, TriggerWord: data.TriggerWord}, nil
	})
	if err != nil {
		return err
	}

	previews, err := enginectx.Step(wctx, "generate-previews", func(ctx types.StepContext) ([]string, error) {
		if _, err := w.records.Progress(ctx, p.AvatarID, "Generating previews", 70, types.Metadata{"stage": "generating_previews"}); err != nil {
			return nil, err
		}
		prompts := []string{
			lora.TriggerWord + " professional portrait, studio lighting, high quality fashion photography",
			lora.TriggerWord + " full body shot, walking pose, fashion runway, professional photography",
			lora.TriggerWord + " headshot, natural smile, commercial photography style",
			lora.TriggerWord + " elegant pose, editorial fashion, high-end magazine quality",
		}
		return w.generateEach(ctx, prompts, func(prompt string) capability.ImageRequest {
			return capability.ImageRequest{
				Prompt:    prompt,
				Count:     1,
				Width:     768,
				Height:    1024,
				LoRAURL:   lora.WeightsURL,
				LoRAScale: 1.0,
			}
		})
	})
	if err != nil {
		return err
	}

	to, err := enginectx.Step(wctx, "finalize", func(ctx types.StepContext) (recipient, error) {
		to, err := w.recipientOf(ctx, types.UserID(avatar.UserID))
		if err != nil {
			return recipient{}, err
		}
		if _, err := w.records.Complete(ctx, p.AvatarID, types.Patch{
			PreviewImages: previews,
			WeightsURL:    types.Ptr(lora.WeightsURL),
			Metadata: types.Metadata{
				"stage":           "completed",
				"lora_config_url": lora.ConfigURL,
				"trigger_word":    lora.TriggerWord,
				"is_custom":       true,
			},
		}); err != nil {
			return recipient{}, err
		}
		return to, nil
	})
	if err != nil {
		return err
	}

	return w.notifyStep(wctx, to, notify.TemplateAvatarComplete, notify.Data{
		AvatarName:    avatar.Name,
		PreviewImages: previews,
		RecordID:      avatar.ID,
	})
}

// generateEach runs one single-image request per prompt concurrently and
// keeps the prompt order in the result.
func (w *Workflows) generateEach(ctx types.StepContext, prompts []string, request func(prompt string) capability.ImageRequest) ([]string, error) {
	urls := make([]string, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		g.Go(func() error {
			out, err := w.adapters.Images.GenerateImages(gctx, request(prompt))
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return fmt.Errorf("no image for prompt %d", i)
			}
			urls[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}
