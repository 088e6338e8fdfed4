package models

import "time"

const (
	// DefaultCredibility is assigned to new accounts and used as the recovery value
	// whenever the credibility computation goes non-finite.
	DefaultCredibility = 75
	MinCredibility     = 20
	MaxCredibility     = 100
	// HighCredibilityScore is the confidence at which a report counts as highly credible.
	HighCredibilityScore = 80
	// MaxProfileLabels bounds the detected-label set kept per user.
	MaxProfileLabels = 256
)

// Profile is the per-user reputation state maintained by the ledger
type Profile struct {
	UserID               string    `json:"user_id"`
	ReportCount          int64     `json:"report_count"`
	AvgConfidence        float64   `json:"avg_confidence"`
	ImageAnalysisCount   int64     `json:"image_analysis_count"`
	AvgImageScore        float64   `json:"avg_image_score"`
	HighCredibilityCount int64     `json:"high_credibility_count"`
	SafetyViolationCount int64     `json:"safety_violation_count"`
	Labels               []string  `json:"labels"`
	Credibility          int       `json:"credibility"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewProfile returns the profile a freshly created account starts with
func NewProfile(userID string) *Profile {
	return &Profile{
		UserID:      userID,
		Labels:      []string{},
		Credibility: DefaultCredibility,
	}
}

// Clone returns a deep copy so callers never share the label slice
func (p *Profile) Clone() *Profile {
	c := *p
	c.Labels = make([]string, len(p.Labels))
	copy(c.Labels, p.Labels)
	return &c
}
