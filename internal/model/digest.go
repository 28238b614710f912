// internal/model/digest.go
package model

import (
	"encoding/json"
	"time"
)

// Arrival is a reservation checking in on the digest date, as reported by the
// reservation system.
type Arrival struct {
	ReservationID string    `json:"reservation_id"`
	GuestName     string    `json:"guest_name"`
	Property      string    `json:"property"`
	CheckIn       time.Time `json:"check_in"`
	CheckOut      time.Time `json:"check_out"`
	Nights        int       `json:"nights"`
	Guests        int       `json:"guests"`
}

type DigestRequest struct {
	Category   Category  `json:"category"`
	Summary    string    `json:"summary"`
	ReceivedAt time.Time `json:"received_at"`
}

type DigestEntry struct {
	Arrival  Arrival         `json:"arrival"`
	Requests []DigestRequest `json:"requests"`
	// Summary joins the distinct request summaries in arrival order.
	Summary           string `json:"summary"`
	NoSpecialRequests bool   `json:"no_special_requests"`
}

// Digest is built on demand and never persisted.
type Digest struct {
	Date        time.Time     `json:"date"`
	Entries     []DigestEntry `json:"entries"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// MessagePage is one page of raw messages from the reservation system.
type MessagePage struct {
	Results []json.RawMessage `json:"results"`
	Count   int               `json:"count"`
}
