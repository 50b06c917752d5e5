package models

import "time"

// MEntity is a tracked catalog product (e.g. one set's booster box).
type MEntity struct {
	ID          string    `json:"id" yaml:"id"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	AliasKey    string    `json:"alias_key" yaml:"alias_key"` // e.g. "OP-01" or "OP-01 (Blue)"
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// MFingerprint is the browser identity a scraping session presents for its whole lifetime.
type MFingerprint struct {
	UserAgent      string `json:"user_agent"`
	Platform       string `json:"platform"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	AcceptLanguage string `json:"accept_language"`
}
