package types

import (
	"fmt"
	"time"
)

// Session status values.
const (
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// Session records one upload/processing run.
type Session struct {
	ID                int64     `json:"id"`
	Filename          string    `json:"filename"`
	UploadedAt        time.Time `json:"uploaded_at"`
	TotalItems        int       `json:"total_items"`
	ProcessedItems    int       `json:"processed_items"`
	HighConfidence    int       `json:"high_confidence_items"`
	MediumConfidence  int       `json:"medium_confidence_items"`
	LowConfidence     int       `json:"low_confidence_items"`
	Status            string    `json:"status"`
	ProcessingSeconds float64   `json:"processing_time_seconds"`
	CreatedAt         time.Time `json:"created_at"`
}

// SessionUpdate is a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	ProcessedItems    *int
	HighConfidence    *int
	MediumConfidence  *int
	LowConfidence     *int
	ProcessingSeconds *float64
	Status            *string
}

// UserStatus is a broker's review decision on one stored result.
type UserStatus string

const (
	StatusPending     UserStatus = "pending"
	StatusConfirmed   UserStatus = "confirmed"
	StatusNeedsReview UserStatus = "needs_review"
	StatusRejected    UserStatus = "rejected"
)

// Validate reports whether s is one of the allowed review statuses.
func (s UserStatus) Validate() error {
	switch s {
	case StatusPending, StatusConfirmed, StatusNeedsReview, StatusRejected:
		return nil
	}
	return fmt.Errorf("invalid user status %q", string(s))
}

// StoredResult is one classified row persisted for a session.
type StoredResult struct {
	ID                  int64      `json:"id"`
	SessionID           int64      `json:"session_id"`
	RowIndex            int        `json:"row_index"`
	ProductName         string     `json:"product_name"`
	OriginalDescription string     `json:"original_description,omitempty"`
	Category            string     `json:"category,omitempty"`
	Brand               string     `json:"brand,omitempty"`
	AdditionalInfo      string     `json:"additional_info,omitempty"`
	HSCode              string     `json:"hs_code"`
	Confidence          int        `json:"confidence_percentage"`
	Reasoning           string     `json:"ai_reasoning"`
	Alternatives        []string   `json:"alternative_codes"`
	UserStatus          UserStatus `json:"user_status"`
	UserNotes           string     `json:"user_notes,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Statistics aggregates completed sessions and review activity.
type Statistics struct {
	TotalSessions         int                `json:"total_sessions"`
	TotalItemsProcessed   int                `json:"total_items_processed"`
	TotalHighConfidence   int                `json:"total_high_confidence"`
	TotalMediumConfidence int                `json:"total_medium_confidence"`
	TotalLowConfidence    int                `json:"total_low_confidence"`
	AvgProcessingSeconds  float64            `json:"avg_processing_time"`
	UserActions           map[UserStatus]int `json:"user_actions"`
}
