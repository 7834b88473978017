package workflows

import "github.com/davidroman0O/studioflow/internal/types"

// Pricing is what a job costs at trigger time and what its failure gives
// back.
type Pricing struct {
	Kind          types.RecordKind
	Cost          int
	Refund        bool
	NotifyFailure bool
	Reason        string
}

var pricing = map[types.EventName]Pricing{
	types.EventAvatarGenerate: {
		Kind: types.RecordKindAvatar,
		Cost: 10,
	},
	types.EventAvatarGenerateCustom: {
		Kind:   types.RecordKindCustomAvatar,
		Cost:   20,
		Refund: true,
		Reason: "custom_avatar_failed",
	},
	types.EventAvatarGenerateHybrid: {
		Kind:   types.RecordKindHybridAvatar,
		Cost:   25,
		Refund: true,
		Reason: "hybrid_avatar_failed",
	},
	types.EventVideoGenerate: {
		Kind:          types.RecordKindVideo,
		Cost:          20,
		NotifyFailure: true,
	},
	types.EventVideoTransfer: {
		Kind:          types.RecordKindTransfer,
		Cost:          30,
		Refund:        true,
		NotifyFailure: true,
		Reason:        "transfer_failed",
	},
}

func PriceOf(event types.EventName) (Pricing, bool) {
	p, ok := pricing[event]
	return p, ok
}
