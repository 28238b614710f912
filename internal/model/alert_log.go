// internal/model/alert_log.go
package model

import "time"

// AlertLog records a successful alert for a message. There is at most one
// row per message, keyed by MessageExternalID.
type AlertLog struct {
	ID                string    `db:"id" json:"id"`
	MessageExternalID string    `db:"message_external_id" json:"message_external_id"`
	Category          Category  `db:"category" json:"category"`
	Channel           string    `db:"channel" json:"channel"`
	SentAt            time.Time `db:"sent_at" json:"sent_at"`
}
