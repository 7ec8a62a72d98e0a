package dto

import (
	"encoding/json"
	"strings"
	"time"
)

// VoteRequest é o corpo de PATCH /events/{id}/vote
type VoteRequest struct {
	Vote     string `json:"vote"`
	Quantity int64  `json:"quantity"`
	IsUpdate bool   `json:"isUpdate"`
}

// CreateEventRequest é o corpo de POST /events
type CreateEventRequest struct {
	Question    string   `json:"question"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	EndingAt    FlexTime `json:"endingAt"`
}

// ResolveRequest é o corpo de POST /events/{id}/resolve
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Username string `json:"username"`
}

type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// FlexTime aceita RFC3339 ou o formato de <input type="datetime-local"> (UTC)
type FlexTime struct{ time.Time }

var flexLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range flexLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}
