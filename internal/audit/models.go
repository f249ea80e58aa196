package audit

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindGate    Kind = "gate"
	KindLogin   Kind = "login"
	KindSession Kind = "session"
)

// Record is one audited event: a gate decision, a login outcome or a session
// expiry seen by the gateway.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TS         time.Time `gorm:"index:idx_kind_ts,priority:2" json:"ts"`
	Kind       Kind      `gorm:"index:idx_kind_ts,priority:1;size:16" json:"kind"`
	Operator   string    `gorm:"size:32" json:"operator"`
	Page       string    `json:"page,omitempty"`
	Outcome    string    `gorm:"size:32" json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RemoteAddr string    `gorm:"size:64" json:"remote_addr,omitempty"`
	RequestID  string    `gorm:"size:64" json:"request_id,omitempty"`
}

func (Record) TableName() string { return "cpegate_audit" }
