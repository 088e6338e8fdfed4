// Package signals defines the contracts of the external collaborators that feed
// report scoring: a text-plausibility scorer, an image-content analyzer and a
// reverse geocoder.
package signals

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by adapters that are not configured
var ErrUnavailable = errors.New("signal adapter unavailable")

// TextInput is what the text-plausibility scorer sees of a report
type TextInput struct {
	Category      string
	Description   string
	LocationLabel string
	Severity      string
	HasPhoto      bool
}

// TextScorer rates how plausible a report's text is, 0..100
type TextScorer interface {
	ScoreText(ctx context.Context, in TextInput) (int, error)
}

// Label is a content label detected in an image
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Safety ratings an image analyzer may return
const (
	SafetySafe    = "safe"
	SafetyUnsafe  = "unsafe"
	SafetyUnknown = "unknown"
)

// ImageAnalysis is the structured output of the image-content analyzer
type ImageAnalysis struct {
	Score        float64  `json:"score"`
	Labels       []Label  `json:"labels"`
	Objects      []string `json:"objects"`
	SafetyRating string   `json:"safety_rating"`
	Success      bool     `json:"success"`
}

// SafetyViolations counts the violations implied by the safety rating
func (a *ImageAnalysis) SafetyViolations() int {
	if a.SafetyRating == SafetyUnsafe {
		return 1
	}
	return 0
}

// LabelNames returns the label names in detection order
func (a *ImageAnalysis) LabelNames() []string {
	names := make([]string, 0, len(a.Labels))
	for _, l := range a.Labels {
		names = append(names, l.Name)
	}
	return names
}

// ImageAnalyzer rates how credible a photo is as evidence, 0..100
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte) (*ImageAnalysis, error)
}

// Place is the cosmetic result of reverse geocoding
type Place struct {
	City             string `json:"city"`
	Region           string `json:"region"`
	FormattedAddress string `json:"formatted_address"`
}

// Geocoder resolves coordinates to a human-readable place
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*Place, error)
}

// UnknownPlace is the best-effort default used when geocoding fails
func UnknownPlace() *Place {
	return &Place{City: "Unknown", Region: "Unknown", FormattedAddress: ""}
}
