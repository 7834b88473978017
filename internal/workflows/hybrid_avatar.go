package workflows

import (
	"fmt"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/types"
)

var partDescriptors = []struct {
	part       string
	descriptor string
}{
	{"face", "striking facial features"},
	{"body", "athletic build"},
	{"hair", "distinctive hairstyle"},
	{"skin_tone", "even skin tone"},
}

var compositePrompts = []string{
	"professional portrait photo, detailed facial features, studio lighting, fashion photography",
	"full body fashion shot, elegant pose, runway style, high-end commercial",
	"editorial style portrait, natural expression, magazine quality",
	"three-quarter view portrait, confident pose, professional photography",
}

// compositePrompt appends a descriptor for every reference weighted above
// one half.
func compositePrompt(base string, refs []BodyPartReference) string {
	prompt := base
	for _, d := range partDescriptors {
		for _, ref := range refs {
			if ref.Part == d.part && ref.Weight > 0.5 {
				prompt += ", " + d.descriptor
				break
			}
		}
	}
	return prompt + ", photorealistic, 8k quality, professional"
}

func (w *Workflows) hybridAvatar() *registry.Definition {
	return &registry.Definition{
		Name:       "generate-hybrid-avatar",
		Event:      types.EventAvatarGenerateHybrid,
		Steps:      []string{"initialize", "generate-composite", "finalize", stepNotify},
		Config:     w.config(2),
		Handler:    w.generateHybridAvatar,
		Compensate: w.compensation(types.EventAvatarGenerateHybrid),
	}
}

func (w *Workflows) generateHybridAvatar(wctx enginectx.WorkflowContext) error {
	var p HybridAvatarPayload
	if err := wctx.Payload(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	avatar, err := enginectx.Step(wctx, "initialize", func(ctx types.StepContext) (avatarRecord, error) {
		rec, err := w.records.Start(ctx, p.AvatarID, "Initializing", 10, types.Metadata{"references": len(p.References)})
		if err != nil {
			return avatarRecord{}, fmt.Errorf("hybrid avatar %s: %w", p.AvatarID, err)
		}
		return avatarRecord{ID: string(rec.ID), Name: rec.Name, UserID: string(rec.UserID)}, nil
	})
	if err != nil {
		return err
	}

	previews, err := enginectx.Step(wctx, "generate-composite", func(ctx types.StepContext) ([]string, error) {
		if _, err := w.records.Progress(ctx, p.AvatarID, "Generating composite", 70, nil); err != nil {
			return nil, err
		}
		return w.generateEach(ctx, compositePrompts, func(base string) capability.ImageRequest {
			return capability.ImageRequest{
				Prompt: compositePrompt(base, p.References),
				Count:  1,
				Width:  768,
				Height: 1024,
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
		if _, err := w.records.Complete(ctx, p.AvatarID, types.Patch{PreviewImages: previews}); err != nil {
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
