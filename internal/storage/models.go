package storage

import "time"

// CallRecord is one call session as seen by the local participant.
type CallRecord struct {
	ID         string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Username   string     `json:"username" gorm:"type:varchar(128);index"`
	Room       string     `json:"room" gorm:"type:varchar(128);index"`
	Role       string     `json:"role" gorm:"type:varchar(16)"`
	FinalState string     `json:"final_state" gorm:"type:varchar(32)"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" gorm:"index"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// TableName pins the table name so renaming the type keeps the history.
func (CallRecord) TableName() string {
	return "call_records"
}

// Duration returns how long the call lasted, or zero while it is running.
func (r CallRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
