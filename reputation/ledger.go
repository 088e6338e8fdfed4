// Package reputation maintains per-user credibility from the confidence scores
// of the reports they submit. Only running averages and counters are kept, so the
// state per user is constant no matter how many reports they file.
package reputation

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"saferoute/models"

	"github.com/apex/log"
)

// ErrProfileNotFound is returned when a user has no reputation profile
var ErrProfileNotFound = errors.New("reputation profile not found")

// ImageResult is the image-signal contribution of one report
type ImageResult struct {
	Score                float64
	Labels               []string
	SafetyViolationCount int
}

// Store persists profiles. UpdateProfile must run fn as one atomic
// read-modify-write per user, retrying conflicts rather than dropping them; a
// user without a stored profile starts from models.NewProfile.
type Store interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, fn func(*models.Profile) error) (*models.Profile, error)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inRange(v float64) bool {
	return finite(v) && v >= 0 && v <= 100
}

// runningMean folds v into a mean of n samples. A non-finite result falls back
// to v so an already corrupted average heals on the next report.
func runningMean(avg float64, n int64, v float64) float64 {
	if n <= 0 {
		return v
	}
	m := (avg*float64(n) + v) / float64(n+1)
	if !finite(m) {
		return v
	}
	return m
}

// Credibility derives the overall credibility from the two running averages
func Credibility(avgConfidence, avgImage float64) int {
	c := 0.7*avgConfidence + 0.3*avgImage
	if !finite(c) {
		return models.DefaultCredibility
	}
	c = math.Max(models.MinCredibility, math.Min(models.MaxCredibility, c))
	return int(math.Floor(c + 1e-9))
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func mergeLabels(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, l := range existing {
		seen[l] = true
	}
	for _, l := range incoming {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		if len(existing) >= models.MaxProfileLabels {
			break
		}
		seen[l] = true
		existing = append(existing, l)
	}
	return existing
}

// Apply folds one report into p and returns the updated profile. p is not modified.
func Apply(p *models.Profile, confidence float64, img *ImageResult) *models.Profile {
	out := p.Clone()

	if !inRange(confidence) {
		confidence = 0
	}

	// Counters restored from a damaged row are reset instead of propagated.
	if out.ReportCount < 0 || !inRange(out.AvgConfidence) {
		out.ReportCount, out.AvgConfidence = 0, 0
	}
	if out.ImageAnalysisCount < 0 || !inRange(out.AvgImageScore) {
		out.ImageAnalysisCount, out.AvgImageScore = 0, 0
	}

	out.AvgConfidence = clampScore(runningMean(out.AvgConfidence, out.ReportCount, confidence))
	out.ReportCount++

	if img != nil && inRange(img.Score) {
		out.AvgImageScore = clampScore(runningMean(out.AvgImageScore, out.ImageAnalysisCount, img.Score))
		out.ImageAnalysisCount++
		out.Labels = mergeLabels(out.Labels, img.Labels)
		if img.SafetyViolationCount > 0 {
			out.SafetyViolationCount += int64(img.SafetyViolationCount)
		}
	}

	out.Credibility = Credibility(out.AvgConfidence, out.AvgImageScore)

	if confidence >= models.HighCredibilityScore {
		out.HighCredibilityCount++
	}
	return out
}

// Ledger applies report outcomes to stored profiles
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over store
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Register creates the default profile for a new account. Registering an
// existing user leaves the stored profile untouched.
func (l *Ledger) Register(ctx context.Context, userID string) (*models.Profile, error) {
	p := models.NewProfile(userID)
	p.UpdatedAt = l.now().UTC()
	if err := l.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return l.store.GetProfile(ctx, userID)
}

// Profile returns the current profile snapshot of userID
func (l *Ledger) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	return l.store.GetProfile(ctx, userID)
}

// ApplyReport folds one report into the submitter's profile atomically. A user
// without a profile gets the default one first.
func (l *Ledger) ApplyReport(ctx context.Context, userID string, confidence float64, img *ImageResult) (*models.Profile, error) {
	updated, err := l.store.UpdateProfile(ctx, userID, func(p *models.Profile) error {
		next := Apply(p, confidence, img)
		next.UpdatedAt = l.now().UTC()
		*p = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id":     userID,
		"reports":     updated.ReportCount,
		"credibility": updated.Credibility,
	}).Debug("reputation updated")
	return updated, nil
}
