package workflows

import (
	"fmt"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/types"
)

var stylePrompts = map[string]string{
	"realistic": "professional headshot, realistic photography, natural lighting, elegant woman, detailed facial features, commercial photography style",
	"fashion":   "high fashion model, editorial photography, dramatic lighting, elegant pose, vogue style, sophisticated beauty",
	"beauty":    "beauty photography, soft lighting, flawless skin, professional makeup, cosmetic advertisement style",
	"editorial": "editorial fashion photography, artistic lighting, creative composition, magazine cover style",
	"casual":    "casual lifestyle photography, natural beauty, soft natural lighting, approachable friendly style",
}

const negativePrompt = "ugly, deformed, noisy, blurry, distorted, low quality, worst quality"

func stylePrompt(style string) string {
	if p, ok := stylePrompts[style]; ok {
		return p
	}
	return stylePrompts["realistic"]
}

// avatarRecord is the part of a record later steps need.
type avatarRecord struct {
	ID     string
	Name   string
	UserID string
}

func (w *Workflows) avatar() *registry.Definition {
	return &registry.Definition{
		Name:       "generate-avatar",
		Event:      types.EventAvatarGenerate,
		Steps:      []string{"fetch-avatar", "generate-images", "save-images", stepNotify},
		Config:     w.config(3),
		Handler:    w.generateAvatar,
		Compensate: w.compensation(types.EventAvatarGenerate),
	}
}

func (w *Workflows) generateAvatar(wctx enginectx.WorkflowContext) error {
	var p AvatarPayload
	if err := wctx.Payload(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	avatar, err := enginectx.Step(wctx, "fetch-avatar", func(ctx types.StepContext) (avatarRecord, error) {
		rec, err := w.records.Start(ctx, p.AvatarID, "Fetching avatar", 10, types.Metadata{"style": p.Style})
		if err != nil {
			return avatarRecord{}, fmt.Errorf("avatar %s: %w", p.AvatarID, err)
		}
		return avatarRecord{ID: string(rec.ID), Name: rec.Name, UserID: string(rec.UserID)}, nil
	})
	if err != nil {
		return err
	}

	images, err := enginectx.Step(wctx, "generate-images", func(ctx types.StepContext) ([]string, error) {
		prompt := stylePrompt(p.Style)
		if _, err := w.records.Progress(ctx, p.AvatarID, "Generating images", 60, types.Metadata{"prompt": prompt}); err != nil {
			return nil, err
		}
		return w.adapters.Images.GenerateImages(ctx, capability.ImageRequest{
			Prompt:         prompt + ", professional quality, 8k uhd, hyper detailed",
			NegativePrompt: negativePrompt,
			Count:          4,
			Width:          1024,
			Height:         1536,
		})
	})
	if err != nil {
		return err
	}

	to, err := enginectx.Step(wctx, "save-images", func(ctx types.StepContext) (recipient, error) {
		to, err := w.recipientOf(ctx, types.UserID(avatar.UserID))
		if err != nil {
			return recipient{}, err
		}
		// completing is the last write of the attempt
		if _, err := w.records.Complete(ctx, p.AvatarID, types.Patch{PreviewImages: images}); err != nil {
			return recipient{}, err
		}
		return to, nil
	})
	if err != nil {
		return err
	}

	return w.notifyStep(wctx, to, notify.TemplateAvatarComplete, notify.Data{
		AvatarName:    avatar.Name,
		PreviewImages: images,
		RecordID:      avatar.ID,
	})
}
