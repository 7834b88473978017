package types

import "time"

type Metadata map[string]any

// Record is one user-visible job: an avatar, a video or a transfer.
type Record struct {
	ID            RecordID
	Kind          RecordKind
	UserID        UserID
	Name          string
	Status        RecordStatus
	Progress      int
	CurrentStep   string
	Metadata      Metadata
	OutputURL     string
	ThumbnailURL  string
	PreviewImages []string
	WeightsURL    string
	ErrorMessage  string
	Event         EventName
	Payload       []byte
	Cost          int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Patch is a single-row, last-write-wins update. Nil fields are left alone,
// a pointer to an empty string clears the column, metadata keys are merged.
type Patch struct {
	Status        *RecordStatus
	Progress      *int
	CurrentStep   *string
	Metadata      Metadata
	OutputURL     *string
	ThumbnailURL  *string
	PreviewImages []string
	WeightsURL    *string
	ErrorMessage  *string
	CompletedAt   *time.Time
	ClearComplete bool
}

// Apply folds the patch into a copy of r.
func (p Patch) Apply(r Record) Record {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Progress != nil {
		r.Progress = *p.Progress
	}
	if p.CurrentStep != nil {
		r.CurrentStep = *p.CurrentStep
	}
	if len(p.Metadata) > 0 {
		merged := make(Metadata, len(r.Metadata)+len(p.Metadata))
		for k, v := range r.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		r.Metadata = merged
	}
	if p.OutputURL != nil {
		r.OutputURL = *p.OutputURL
	}
	if p.ThumbnailURL != nil {
		r.ThumbnailURL = *p.ThumbnailURL
	}
	if p.PreviewImages != nil {
		r.PreviewImages = append([]string(nil), p.PreviewImages...)
	}
	if p.WeightsURL != nil {
		r.WeightsURL = *p.WeightsURL
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
	}
	if p.ClearComplete {
		r.CompletedAt = nil
	}
	return r
}

type User struct {
	ID          UserID
	Email       string
	DisplayName string
	Language    Language
	Credits     int
	CreatedAt   time.Time
}

type LedgerEntry struct {
	ID           int
	UserID       UserID
	Amount       int
	Type         LedgerType
	BalanceAfter int
	Metadata     Metadata
	CreatedAt    time.Time
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
