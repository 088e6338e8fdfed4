// Package routing estimates duration, distance, cost and safety for the
// fastest, eco and safest variants of a trip, adjusted by nearby incidents.
package routing

import (
	"fmt"
	"math"
	"time"

	"saferoute/geo"
	"saferoute/models"

	"github.com/shopspring/decimal"
)

// Variant names
const (
	Fastest = "fastest"
	Eco     = "eco"
	Safest  = "safest"
)

const (
	highDelayMinutes   = 5
	mediumDelayMinutes = 2
	fastestSafetyBase  = 90
	fastestSafetyFloor = 30
	ecoSafety          = 75
	safestSafetyBase   = 95
	safestPerIncident  = 2
)

// Incident is a nearby reported incident as seen by the scorer
type Incident struct {
	Category models.Category `json:"category"`
	Severity models.Severity `json:"severity"`
	Age      time.Duration   `json:"age"`
}

// Tally counts incidents by severity
type Tally struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (t *Tally) add(in Incident) {
	t.Total++
	switch in.Severity {
	case models.SeverityHigh:
		t.High++
	case models.SeverityMedium:
		t.Medium++
	default:
		t.Low++
	}
}

func tallyOf(incidents []Incident, counts func(Incident) bool) Tally {
	var t Tally
	for _, in := range incidents {
		if counts != nil && counts(in) {
			t.add(in)
		}
	}
	return t
}

// Variant describes how one route variant turns a straight-line distance and a
// set of nearby incidents into a result.
type Variant struct {
	Name           string
	DistanceFactor float64
	MinutesPerKm   float64
	CostPerKm      decimal.Decimal
	// Counts selects the incidents that lie on this variant's route; nil means none do.
	Counts func(Incident) bool
	// Delays adds per-incident minutes for the incidents on the route.
	Delays bool
	// Safety derives the safety percentage from the incidents on the route and
	// from every nearby incident.
	Safety func(onRoute, nearby Tally) int
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func countAll(Incident) bool { return true }

// DefaultVariants is the fastest/eco/safest table
func DefaultVariants() []Variant {
	return []Variant{
		{
			Name:           Fastest,
			DistanceFactor: 1.0,
			MinutesPerKm:   1.2,
			CostPerKm:      decimal.RequireFromString("0.18"),
			Counts:         countAll,
			Delays:         true,
			Safety: func(onRoute, _ Tally) int {
				s := fastestSafetyBase - 15*onRoute.High - 8*onRoute.Medium - 3*onRoute.Low
				if s < fastestSafetyFloor {
					s = fastestSafetyFloor
				}
				return s
			},
		},
		{
			// Avoids highways: longer and slower, cheaper per km.
			Name:           Eco,
			DistanceFactor: 1.08,
			MinutesPerKm:   1.4,
			CostPerKm:      decimal.RequireFromString("0.14"),
			Counts: func(in Incident) bool {
				return !(in.Severity == models.SeverityHigh && in.Category == models.CategoryTraffic)
			},
			Delays: true,
			Safety: func(Tally, Tally) int { return ecoSafety },
		},
		{
			// Routed around every known incident zone.
			Name:           Safest,
			DistanceFactor: 1.15,
			MinutesPerKm:   1.6,
			CostPerKm:      decimal.RequireFromString("0.18"),
			Counts:         nil,
			Delays:         false,
			Safety: func(_, nearby Tally) int {
				return clampPercent(safestSafetyBase - safestPerIncident*nearby.Total)
			},
		},
	}
}

// Result is the estimate for one route variant
type Result struct {
	Variant          string          `json:"variant"`
	Duration         string          `json:"duration"`
	DurationMinutes  int             `json:"duration_minutes"`
	Distance         string          `json:"distance"`
	DistanceKm       float64         `json:"distance_km"`
	Cost             decimal.Decimal `json:"cost"`
	Currency         string          `json:"currency"`
	SafetyPercent    int             `json:"safety_percent"`
	IncidentsOnRoute int             `json:"incidents_on_route"`
}

// Comparison holds all three variants and the recommended one
type Comparison struct {
	Fastest         Result `json:"fastest"`
	Eco             Result `json:"eco"`
	Safest          Result `json:"safest"`
	NearbyIncidents Tally  `json:"nearby_incidents"`
	Recommended     string `json:"recommended"`
	Reason          string `json:"reason"`
}

// FormatDuration renders whole minutes as "42 min" or "1 h 5 min"
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%d h", h)
	}
	return fmt.Sprintf("%d h %d min", h, m)
}

func roundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// Scorer evaluates a variant table. It holds no mutable state.
type Scorer struct {
	variants []Variant
	currency string
}

// NewScorer creates a scorer over the default variants
func NewScorer(currency string) *Scorer {
	return &Scorer{variants: DefaultVariants(), currency: currency}
}

func (s *Scorer) scoreVariant(v Variant, straightKm float64, incidents []Incident, nearby Tally) Result {
	km := straightKm * v.DistanceFactor
	onRoute := tallyOf(incidents, v.Counts)

	minutes := km * v.MinutesPerKm
	if v.Delays {
		minutes += float64(highDelayMinutes*onRoute.High + mediumDelayMinutes*onRoute.Medium)
	}
	whole := int(math.Round(minutes))
	rounded := roundKm(km)

	return Result{
		Variant:          v.Name,
		Duration:         FormatDuration(whole),
		DurationMinutes:  whole,
		Distance:         fmt.Sprintf("%.1f km", rounded),
		DistanceKm:       rounded,
		Cost:             decimal.NewFromFloat(km).Mul(v.CostPerKm).Round(2),
		Currency:         s.currency,
		SafetyPercent:    clampPercent(v.Safety(onRoute, nearby)),
		IncidentsOnRoute: onRoute.Total,
	}
}

// Score computes every variant for a trip from origin to destination with the
// given nearby incidents, and picks a recommendation.
func (s *Scorer) Score(origin, destination geo.Point, incidents []Incident) Comparison {
	straight := geo.DistanceKm(origin, destination)
	nearby := tallyOf(incidents, countAll)

	results := make(map[string]Result, len(s.variants))
	for _, v := range s.variants {
		results[v.Name] = s.scoreVariant(v, straight, incidents, nearby)
	}

	c := Comparison{
		Fastest:         results[Fastest],
		Eco:             results[Eco],
		Safest:          results[Safest],
		NearbyIncidents: nearby,
	}
	c.Recommended, c.Reason = Recommend(c.Fastest, c.Eco, nearby)
	return c
}

// Recommend picks one variant from the fastest and eco estimates and the
// nearby incident tally.
func Recommend(fastest, eco Result, nearby Tally) (string, string) {
	penalty := eco.DurationMinutes - fastest.DurationMinutes
	switch {
	case penalty < 30 && nearby.Total < 3:
		return Eco, fmt.Sprintf("eco route adds only %d min with %d incidents nearby", penalty, nearby.Total)
	case nearby.Total > 5 || nearby.High > 2:
		return Safest, fmt.Sprintf("%d incidents nearby, %d of them high severity", nearby.Total, nearby.High)
	case nearby.Total <= 2 && fastest.DurationMinutes < 60:
		return Fastest, "few incidents and a short trip"
	default:
		return Fastest, "no alternative is clearly better"
	}
}
