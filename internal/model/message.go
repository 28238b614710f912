// internal/model/message.go
package model

import "time"

// Category is the classification assigned to a guest message.
type Category string

const (
	CategoryEarlyCheckin     Category = "EARLY_CHECKIN"
	CategoryLateCheckout     Category = "LATE_CHECKOUT"
	CategorySpecialRequest   Category = "SPECIAL_REQUEST"
	CategoryMaintenanceIssue Category = "MAINTENANCE_ISSUE"
	CategoryGeneralQuestion  Category = "GENERAL_QUESTION"
)

// Categories lists every known category in prompt order.
var Categories = []Category{
	CategoryEarlyCheckin,
	CategoryLateCheckout,
	CategorySpecialRequest,
	CategoryMaintenanceIssue,
	CategoryGeneralQuestion,
}

// ParseCategory returns the category named by s and whether it is known.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Label turns EARLY_CHECKIN into "Early Checkin".
func (c Category) Label() string {
	out := make([]byte, 0, len(c))
	upper := true
	for i := 0; i < len(c); i++ {
		ch := c[i]
		switch {
		case ch == '_':
			out = append(out, ' ')
			upper = true
			continue
		case upper && ch >= 'a' && ch <= 'z':
			ch -= 'a' - 'A'
		case !upper && ch >= 'A' && ch <= 'Z':
			ch += 'a' - 'A'
		}
		out = append(out, ch)
		upper = false
	}
	return string(out)
}

// Source identifies the producer that submitted a message.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceBackfill Source = "backfill"
)

type Message struct {
	ID             int64      `db:"id" json:"id"`
	ExternalID     string     `db:"external_id" json:"external_id"`
	ConversationID *string    `db:"conversation_id" json:"conversation_id,omitempty"`
	ReservationID  *string    `db:"reservation_id" json:"reservation_id,omitempty"`
	GuestName      *string    `db:"guest_name" json:"guest_name,omitempty"`
	Text           string     `db:"message_text" json:"text"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	Source         Source     `db:"source" json:"source"`
	Processed      bool       `db:"processed" json:"processed"`
	Category       *Category  `db:"category" json:"category,omitempty"`
	Confidence     *float64   `db:"confidence" json:"confidence,omitempty"`
	Summary        *string    `db:"summary" json:"summary,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Classification is the validated output written back onto a message.
type Classification struct {
	Category   Category `json:"category" validate:"required"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Summary    string   `json:"summary" validate:"required"`
}

// Classified reports whether every classification field is populated.
func (m *Message) Classified() bool {
	return m.Processed && m.Category != nil && m.Confidence != nil && m.Summary != nil
}

// Apply copies a classification onto the message and marks it processed.
func (m *Message) Apply(c Classification, at time.Time) {
	category := c.Category
	confidence := c.Confidence
	summary := c.Summary
	m.Category = &category
	m.Confidence = &confidence
	m.Summary = &summary
	m.Processed = true
	m.ProcessedAt = &at
}

// StringValue dereferences p, returning fallback when p is nil or empty.
func StringValue(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
