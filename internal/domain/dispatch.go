package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the recorded outcome of one attempted send.
type Status string

const (
	StatusSent   Status = "SENT"   // Gateway call completed; reply captured for audit
	StatusFailed Status = "FAILED" // Transport-level error before the gateway answered
)

// Disposition classifies what the engine did with a single recipient row.
// Skipped rows leave no trace in the outcome log.
type Disposition int

const (
	DispositionSent Disposition = iota
	DispositionFailed
	DispositionSkipped
)

// RecipientRow is one entry of the dispatch batch as supplied by the
// recipient source. RawPhone is in whatever format the source holds.
type RecipientRow struct {
	RawPhone    string
	DisplayName string
	MessageBody string
}

// Attachment is a file shared read-only by every message of a run.
type Attachment struct {
	Filename string
	Data     []byte
}

// RunContext carries the per-run configuration. It is built fresh for every
// dispatch run and discarded when the run ends.
type RunContext struct {
	RunID    uuid.UUID
	Token    string
	RunLabel string
	RunRange string

	// OverridePhone redirects every send of the run to one fixed test
	// number. The row's own phone is ignored while it is set.
	OverridePhone string

	// At most one of Attachment / PublicURL is used per run.
	Attachment *Attachment
	PublicURL  string
}

// NewRunContext returns a RunContext with a generated run id.
func NewRunContext(token, label, dateRange string) RunContext {
	return RunContext{
		RunID:    uuid.New(),
		Token:    token,
		RunLabel: label,
		RunRange: dateRange,
	}
}

// OutcomeRecord is one immutable row of the outcome log. Rows are appended
// in send order and never updated in place.
type OutcomeRecord struct {
	ID           uint64 `gorm:"primaryKey"`
	RunLabel     string
	RunRange     string
	Phone        string
	DisplayName  string
	MessageBody  string
	Status       Status
	GatewayReply string
	CreatedAt    time.Time
}

// NewOutcomeRecord builds the log row for one attempted send.
func NewOutcomeRecord(run RunContext, phone string, row RecipientRow, status Status, reply string) OutcomeRecord {
	return OutcomeRecord{
		RunLabel:     run.RunLabel,
		RunRange:     run.RunRange,
		Phone:        phone,
		DisplayName:  row.DisplayName,
		MessageBody:  row.MessageBody,
		Status:       status,
		GatewayReply: reply,
		CreatedAt:    time.Now().UTC(),
	}
}

// Domain errors
var (
	// ErrLockHeld means another dispatch run is already in flight.
	ErrLockHeld = errors.New("dispatch run already in progress")

	ErrMissingToken      = errors.New("gateway token is not configured")
	ErrNoRecipientSource = errors.New("recipient source is not configured")
	ErrNoOutcomeLog      = errors.New("outcome log is not configured")
)
