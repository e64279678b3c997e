// ABOUTME: Session record types for the onboarding flow
// ABOUTME: Defines Session, Status, Image and the partial Fields used for merges

package session

import (
	"bytes"
	"encoding/json"
	"time"
)

// Status is the advisory progress label of a session. The registry does not
// enforce any ordering between statuses.
type Status string

const (
	StatusStarted         Status = "started"
	StatusEmailAdded      Status = "email added"
	StatusReadyForScoring Status = "ready for scoring"
	StatusImageUploaded   Status = "image uploaded"
	StatusScored          Status = "scored"
)

// Image is an uploaded picture held fully in memory.
// Data marshals as base64 under "buffer" to match what operator UIs render
// into a data: URL.
type Image struct {
	Data      []byte `json:"buffer"`
	MediaType string `json:"type"`
}

// Session tracks one end-user's progress through the onboarding flow.
// Nullable fields are nil until an action supplies them.
type Session struct {
	ID        string          `json:"sessionId"`
	Status    Status          `json:"status"`
	Username  *string         `json:"username"`
	Email     *string         `json:"email"`
	Name      *string         `json:"name"`
	IP        *string         `json:"ip"`
	Image     *Image          `json:"image,omitempty"`
	Score     json.RawMessage `json:"score"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Fields is a partial update. Nil members are left untouched by a merge;
// non-nil members replace the stored value wholesale.
type Fields struct {
	Status   *Status
	Username *string
	Email    *string
	Name     *string
	IP       *string
	Image    *Image
	Score    json.RawMessage
}

// merge applies f over s. Values are copied so later changes to the caller's
// Fields cannot reach the stored record.
func (s *Session) merge(f Fields) {
	if f.Status != nil {
		s.Status = *f.Status
	}
	if f.Username != nil {
		s.Username = cloneString(f.Username)
	}
	if f.Email != nil {
		s.Email = cloneString(f.Email)
	}
	if f.Name != nil {
		s.Name = cloneString(f.Name)
	}
	if f.IP != nil {
		s.IP = cloneString(f.IP)
	}
	if f.Image != nil {
		s.Image = &Image{
			Data:      bytes.Clone(f.Image.Data),
			MediaType: f.Image.MediaType,
		}
	}
	if f.Score != nil {
		s.Score = bytes.Clone(f.Score)
	}
}

// clone returns a deep copy of s that shares no memory with the stored record.
func (s *Session) clone() Session {
	out := *s
	if s.Username != nil {
		out.Username = cloneString(s.Username)
	}
	if s.Email != nil {
		out.Email = cloneString(s.Email)
	}
	if s.Name != nil {
		out.Name = cloneString(s.Name)
	}
	if s.IP != nil {
		out.IP = cloneString(s.IP)
	}
	if s.Image != nil {
		out.Image = &Image{
			Data:      bytes.Clone(s.Image.Data),
			MediaType: s.Image.MediaType,
		}
	}
	if s.Score != nil {
		out.Score = bytes.Clone(s.Score)
	}
	return out
}

func cloneString(p *string) *string {
	v := *p
	return &v
}
