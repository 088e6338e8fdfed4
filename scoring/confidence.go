package scoring

import (
	"math"

	"saferoute/models"
)

const (
	// NeutralSignal stands in for a missing text signal and is the fixed prior in the blend.
	NeutralSignal = 50.0

	// floorEpsilon absorbs binary representation error before flooring.
	floorEpsilon = 1e-9

	photoBonus           = 10
	locationBonus        = 5
	descriptionBonus     = 5
	longDescriptionRunes = 50
	maxConfidence        = 100
	minConfidence        = 0
)

// validSignal reports whether v is a usable 0..100 adapter output
func validSignal(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0 && *v <= 100
}

// blend returns the signal-fusion base score before bonuses
func blend(text, image *float64) float64 {
	t := NeutralSignal
	if validSignal(text) {
		t = *text
	}
	if validSignal(image) {
		return math.Floor(0.4*t + 0.4*(*image) + 0.2*NeutralSignal + floorEpsilon)
	}
	return math.Floor(0.5*t + 0.3*NeutralSignal + floorEpsilon)
}

func capped(v int) int {
	if v > maxConfidence {
		return maxConfidence
	}
	if v < minConfidence {
		return minConfidence
	}
	return v
}

// ComputeConfidence fuses the text and image signals with the submission-quality
// bonuses into a 0..100 confidence score. A nil or invalid text signal counts as
// NeutralSignal; a nil or invalid image signal is treated as absent.
func ComputeConfidence(text, image *float64, hasPhoto, hasLocationName bool, descriptionLength int) int {
	score := capped(int(blend(text, image)))
	if hasPhoto {
		score = capped(score + photoBonus)
	}
	if hasLocationName {
		score = capped(score + locationBonus)
	}
	if descriptionLength > longDescriptionRunes {
		score = capped(score + descriptionBonus)
	}
	return score
}

// Decide maps a confidence score to the status the report is stored with
func Decide(confidence int) models.ReportStatus {
	if confidence >= models.PublishThreshold {
		return models.StatusPublished
	}
	return models.StatusUnpublished
}
