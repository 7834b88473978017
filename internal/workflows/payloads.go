package workflows

import (
	"errors"
	"fmt"

	"github.com/davidroman0O/studioflow/internal/types"
)

var ErrInvalidPayload = errors.New("invalid payload")

func invalid(format string, args ...any) error {
	return types.Permanent(fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...)))
}

type AvatarPayload struct {
	AvatarID types.RecordID `json:"avatarId"`
	Style    string         `json:"style"`
}

func (p AvatarPayload) Validate() error {
	if p.AvatarID == "" {
		return invalid("missing avatarId")
	}
	return nil
}

type CustomAvatarPayload struct {
	AvatarID       types.RecordID `json:"avatarId"`
	TrainingImages []string       `json:"trainingImages"`
}

func (p CustomAvatarPayload) Validate() error {
	if p.AvatarID == "" {
		return invalid("missing avatarId")
	}
	if len(p.TrainingImages) == 0 {
		return invalid("no training images")
	}
	return nil
}

// BodyPartReference weighs one reference image for a hybrid avatar.
type BodyPartReference struct {
	Part     string  `json:"part"`
	ImageURL string  `json:"imageUrl"`
	Weight   float64 `json:"weight"`
}

type HybridAvatarPayload struct {
	AvatarID   types.RecordID      `json:"avatarId"`
	References []BodyPartReference `json:"references"`
}

func (p HybridAvatarPayload) Validate() error {
	if p.AvatarID == "" {
		return invalid("missing avatarId")
	}
	if len(p.References) == 0 {
		return invalid("no references")
	}
	for _, ref := range p.References {
		switch ref.Part {
		case "face", "body", "hair", "skin_tone":
		default:
			return invalid("unknown body part %q", ref.Part)
		}
		if ref.Weight < 0 || ref.Weight > 1 {
			return invalid("weight %v of %s out of [0,1]", ref.Weight, ref.Part)
		}
	}
	return nil
}

type VideoPayload struct {
	JobID       types.RecordID `json:"jobId"`
	AvatarName  string         `json:"avatarName"`
	ProductName string         `json:"productName"`
	ProductType string         `json:"productType"`
	Background  string         `json:"background"`
	Action      string         `json:"action"`
	VideoSize   string         `json:"videoSize"`
}

func (p VideoPayload) Validate() error {
	if p.JobID == "" {
		return invalid("missing jobId")
	}
	switch p.VideoSize {
	case "1:1", "16:9", "9:16":
	default:
		return invalid("unsupported video size %q", p.VideoSize)
	}
	return nil
}

type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TransferPayload struct {
	JobID          types.RecordID `json:"jobId"`
	SourceVideoURL string         `json:"sourceVideoUrl"`
	AvatarID       types.RecordID `json:"avatarId"`
	Products       []ProductRef   `json:"products"`
	KeepBackground bool           `json:"keepBackground"`
}

func (p TransferPayload) Validate() error {
	switch {
	case p.JobID == "":
		return invalid("missing jobId")
	case p.SourceVideoURL == "":
		return invalid("missing sourceVideoUrl")
	case p.AvatarID == "":
		return invalid("missing avatarId")
	}
	return nil
}

// subject pulls the record id out of any of the payloads above.
type subject struct {
	AvatarID types.RecordID `json:"avatarId"`
	JobID    types.RecordID `json:"jobId"`
}

func (s subject) recordID() types.RecordID {
	if s.JobID != "" {
		return s.JobID
	}
	return s.AvatarID
}

// frameSize maps a video aspect ratio to the scene image dimensions.
func frameSize(videoSize string) (int, int) {
	switch videoSize {
	case "1:1":
		return 1024, 1024
	case "16:9":
		return 1344, 768
	default:
		return 1024, 1344
	}
}
