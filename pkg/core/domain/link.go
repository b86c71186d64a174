package domain

import "time"

// Link represents a shortened URL
type Link struct {
	ID           int64      `json:"id"`
	ShortCode    string     `json:"short_code"`
	OriginalURL  string     `json:"original_url"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	PasswordHash string     `json:"-"`
	ClickCount   int64      `json:"click_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPassword reports whether the link is gated behind a password.
func (l *Link) HasPassword() bool {
	return l.PasswordHash != ""
}

// IsExpired reports whether the link expired before now. A link without
// an expiry never expires.
func (l *Link) IsExpired(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return now.After(*l.ExpiresAt)
}

// IsAccessible is active AND NOT expired.
func (l *Link) IsAccessible(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// Page is one page of links plus pagination metadata.
type Page struct {
	Links []Link `json:"links"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int64  `json:"total"`
	Pages int64  `json:"pages"`
}

// PageCount returns ceil(total/limit).
func PageCount(total int64, limit int) int64 {
	if limit <= 0 || total <= 0 {
		return 0
	}
	l := int64(limit)
	return (total + l - 1) / l
}

// ClearResult holds the row counts that existed before a clear-all.
type ClearResult struct {
	Links  int64 `json:"links"`
	Clicks int64 `json:"clicks"`
}

// CreateLinkInput carries the fields accepted when shortening a URL.
type CreateLinkInput struct {
	URL         string     `json:"url" validate:"required,httpurl"`
	Code        string     `json:"code" validate:"omitempty,shortcode"`
	Title       string     `json:"title" validate:"max=255"`
	Description string     `json:"description" validate:"max=2000"`
	Owner       string     `json:"owner" validate:"max=255"`
	Password    string     `json:"password" validate:"max=72"`
	ExpiresAt   *time.Time `json:"expires_at"`
	IsActive    *bool      `json:"is_active"`
}

// UpdateLinkInput is a partial update; nil fields are left unchanged.
// An empty Password clears the password, ClearExpiry removes the expiry.
type UpdateLinkInput struct {
	URL         *string    `json:"url" validate:"omitempty,httpurl"`
	Title       *string    `json:"title" validate:"omitempty,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Password    *string    `json:"password" validate:"omitempty,max=72"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
	IsActive    *bool      `json:"is_active"`
}
