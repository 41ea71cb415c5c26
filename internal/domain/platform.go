package domain

import "time"

// StreamPlatform is a streaming service that hosts watchlist titles.
type StreamPlatform struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	About     string    `json:"about"`
	Website   string    `json:"website"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StreamPlatformDetail is a platform together with the titles it hosts.
type StreamPlatformDetail struct {
	StreamPlatform
	Watchlist []Watchlist `json:"watchlist"`
}
