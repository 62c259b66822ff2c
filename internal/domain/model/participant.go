package model

import "time"

type Participant struct {
	ID          string    `json:"id"`
	HackathonID string    `json:"hackathon_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
