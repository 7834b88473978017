package main

import (
	"context"
	"fmt"

	"github.com/davidroman0O/studioflow"
)

type outcome struct {
	Kind     string
	Status   string
	Progress int
	Error    string
	Outputs  []string
	Attempts int
}

type report struct {
	User     studioflow.UserID
	Balance  int
	Outcomes []outcome
	Ledger   []studioflow.LedgerEntry
}

// demo submits one job of every kind, waits for each, then retries the
// transfer that ran out of attempts.
func demo(ctx context.Context, sf *studioflow.Studioflow, cfg config) (report, error) {
	user, err := sf.CreateUser(ctx, studioflow.User{
		Email:       cfg.Demo.Email,
		DisplayName: "Demo",
		Credits:     cfg.Demo.Credits,
	})
	if err != nil {
		return report{}, err
	}

	var out report
	out.User = user.ID

	collect := func(kind string, job studioflow.Job) (studioflow.Record, error) {
		rec, err := sf.Await(ctx, job)
		if err != nil {
			return rec, fmt.Errorf("%s: %w", kind, err)
		}
		attempts, err := sf.Attempts(ctx, job.ExecutionID)
		if err != nil {
			return rec, fmt.Errorf("%s: %w", kind, err)
		}
		out.Outcomes = append(out.Outcomes, outcome{
			Kind:     kind,
			Status:   string(rec.Status),
			Progress: rec.Progress,
			Error:    rec.ErrorMessage,
			Outputs:  outputsOf(rec),
			Attempts: len(attempts),
		})
		return rec, nil
	}

	avatar, err := sf.GenerateAvatar(ctx, studioflow.AvatarRequest{UserID: user.ID, Name: "Ava", Style: "editorial"})
	if err != nil {
		return out, err
	}
	custom, err := sf.GenerateCustomAvatar(ctx, studioflow.CustomAvatarRequest{
		UserID: user.ID,
		Name:   "Mina",
		TrainingImages: []string{
			"https://assets.studio.example/mina/1.jpg",
			"https://assets.studio.example/mina/2.jpg",
			"https://assets.studio.example/mina/3.jpg",
		},
	})
	if err != nil {
		return out, err
	}
	hybrid, err := sf.GenerateHybridAvatar(ctx, studioflow.HybridAvatarRequest{
		UserID: user.ID,
		Name:   "Composite",
		References: []studioflow.BodyPartReference{
			{Part: "face", ImageURL: "https://assets.studio.example/ref/face.jpg", Weight: 0.8},
			{Part: "hair", ImageURL: "https://assets.studio.example/ref/hair.jpg", Weight: 0.6},
			{Part: "body", ImageURL: "https://assets.studio.example/ref/body.jpg", Weight: 0.4},
		},
	})
	if err != nil {
		return out, err
	}
	video, err := sf.GenerateVideo(ctx, studioflow.VideoRequest{
		UserID:      user.ID,
		Name:        "Summer drop",
		AvatarName:  "Ava",
		ProductName: "linen shirt",
		ProductType: "top",
		Background:  "sunlit terrace",
		Action:      "walking towards the camera",
		VideoSize:   "9:16",
	})
	if err != nil {
		return out, err
	}

	if _, err := collect("avatar", avatar); err != nil {
		return out, err
	}
	customRec, err := collect("custom-avatar", custom)
	if err != nil {
		return out, err
	}
	if _, err := collect("hybrid-avatar", hybrid); err != nil {
		return out, err
	}
	if _, err := collect("video", video); err != nil {
		return out, err
	}

	transfer, err := sf.TransferVideo(ctx, studioflow.TransferRequest{
		UserID:         user.ID,
		Name:           "Runway transfer",
		SourceVideoURL: "https://assets.studio.example/runway.mp4",
		AvatarID:       customRec.ID,
		Products:       []studioflow.ProductRef{{ID: "p-1", Name: "linen shirt"}},
	})
	if err != nil {
		return out, err
	}
	transferRec, err := collect("transfer", transfer)
	if err != nil {
		return out, err
	}

	if transferRec.Status == studioflow.RecordStatusFailed {
		retried, err := sf.Retry(ctx, transferRec.ID)
		if err != nil {
			return out, err
		}
		if _, err := collect("transfer-retry", retried); err != nil {
			return out, err
		}
	}

	if out.Balance, err = sf.Balance(ctx, user.ID); err != nil {
		return out, err
	}
	if out.Ledger, err = sf.Ledger(ctx, user.ID); err != nil {
		return out, err
	}
	return out, nil
}

func outputsOf(rec studioflow.Record) []string {
	var urls []string
	for _, u := range []string{rec.OutputURL, rec.ThumbnailURL, rec.WeightsURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return append(urls, rec.PreviewImages...)
}
