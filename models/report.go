package models

import (
	"strings"
	"time"
)

const (
	// ReportTTL is how long a report stays visible after creation.
	ReportTTL = 72 * time.Hour
	// CommentTTL is how long a discussion comment stays visible.
	CommentTTL = 7 * 24 * time.Hour
	// PublishThreshold is the minimum confidence for a report to be published.
	PublishThreshold = 70
)

// Category is the closed set of incident categories a report may carry
type Category string

const (
	CategoryAccident Category = "accident"
	CategoryTraffic  Category = "traffic"
	CategoryRoadwork Category = "roadwork"
	CategoryHazard   Category = "hazard"
	CategoryPolice   Category = "police"
	CategoryWeather  Category = "weather"
	CategoryCrime    Category = "crime"
	CategoryOther    Category = "other"
)

var categories = map[Category]bool{
	CategoryAccident: true,
	CategoryTraffic:  true,
	CategoryRoadwork: true,
	CategoryHazard:   true,
	CategoryPolice:   true,
	CategoryWeather:  true,
	CategoryCrime:    true,
	CategoryOther:    true,
}

// ParseCategory normalizes s and reports whether it names a known category
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, categories[c]
}

// Severity of a reported incident
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity normalizes s and reports whether it names a known severity
func ParseSeverity(s string) (Severity, bool) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return v, true
	}
	return v, false
}

// ReportStatus is the publish state of a report
type ReportStatus string

const (
	StatusPublished   ReportStatus = "published"
	StatusUnpublished ReportStatus = "unpublished"
	StatusRejected    ReportStatus = "rejected"
)

// Evidence sources recorded on every report
const (
	EvidenceTextSignal       = "text_signal"
	EvidenceImageSignal      = "image_signal"
	EvidencePhotoBonus       = "photo_bonus"
	EvidenceLocationBonus    = "location_bonus"
	EvidenceDescriptionBonus = "description_bonus"
	EvidenceFinal            = "final"
)

// Evidence is one step of how a report's confidence score was produced
type Evidence struct {
	Source    string    `json:"source"`
	Score     float64   `json:"score"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Report represents a submitted incident report
type Report struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Category     Category     `json:"category"`
	Description  string       `json:"description"`
	Severity     Severity     `json:"severity"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	LocationName string       `json:"location_name,omitempty"`
	City         string       `json:"city,omitempty"`
	Region       string       `json:"region,omitempty"`
	Address      string       `json:"address,omitempty"`
	HasPhoto     bool         `json:"has_photo"`
	Photo        []byte       `json:"-"`
	Confidence   int          `json:"confidence"`
	Status       ReportStatus `json:"status"`
	Evidence     []Evidence   `json:"evidence"`
	CommentCount int          `json:"comment_count"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Expired reports whether the report is past its visibility window at now
func (r *Report) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Comment is a discussion entry attached to a report
type Comment struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FeedItem is a published report annotated with its distance from the feed center.
// DistanceKm is nil when no distance could be resolved.
type FeedItem struct {
	Report     Report   `json:"report"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// ReportPublishedMessage is emitted on the message bus when a report goes live
type ReportPublishedMessage struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Confidence int       `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// BroadcastMessage is the envelope sent to live feed subscribers
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
