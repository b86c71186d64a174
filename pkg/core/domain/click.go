package domain

import "time"

// ClickEvent is one immutable record of a redirect traversal
type ClickEvent struct {
	ID         int64     `json:"id"`
	ShortCode  string    `json:"short_code"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Referer    string    `json:"referer"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	ClickedAt  time.Time `json:"clicked_at"`
}

// LinkStats is the statistics view of a single link
type LinkStats struct {
	Link         *Link        `json:"-"`
	RecentClicks []ClickEvent `json:"recent_clicks"`
	Breakdown    Breakdown    `json:"breakdown"`
}

// Breakdown counts clicks per dimension value
type Breakdown struct {
	Referers []Bucket `json:"referers"`
	Browsers []Bucket `json:"browsers"`
	OS       []Bucket `json:"os"`
	Devices  []Bucket `json:"devices"`
}

type Bucket struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// ClickInput is the raw request data captured for one redirect.
type ClickInput struct {
	ShortCode string
	IPAddress string
	UserAgent string
	Referer   string
}
