package types

// RecordStatus is the user-visible status of an entity record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusFailed     RecordStatus = "failed"
)

func RecordStatusValues() []string {
	return []string{
		string(RecordStatusPending),
		string(RecordStatusProcessing),
		string(RecordStatusCompleted),
		string(RecordStatusFailed),
	}
}

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further attempt will run.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

type AttemptStatus string

const (
	AttemptStatusRunning   AttemptStatus = "running"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// RecordKind names the table-like family a record belongs to.
type RecordKind string

const (
	RecordKindAvatar       RecordKind = "avatar"
	RecordKindCustomAvatar RecordKind = "custom_avatar"
	RecordKindHybridAvatar RecordKind = "hybrid_avatar"
	RecordKindVideo        RecordKind = "video"
	RecordKindTransfer     RecordKind = "transfer"
)

type LedgerType string

const (
	LedgerTypeUsage    LedgerType = "usage"
	LedgerTypeRefund   LedgerType = "refund"
	LedgerTypePurchase LedgerType = "purchase"
	LedgerTypeBonus    LedgerType = "bonus"
)

type Language string

const (
	LanguageKorean  Language = "ko"
	LanguageEnglish Language = "en"
)
