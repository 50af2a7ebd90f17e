package domain

import "time"

// Member is a network participant. SponsorID is the referral sponsor fixed
// at registration; it is unrelated to where the member sits in a matrix.
type Member struct {
	ID           string    `json:"id"`
	SponsorID    string    `json:"sponsor_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}
