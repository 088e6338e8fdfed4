package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"saferoute/models"
	"saferoute/signals"

	"github.com/apex/log"
)

// Submission is the part of a report the calculator scores
type Submission struct {
	Category      models.Category
	Description   string
	Severity      models.Severity
	LocationName  string
	LocationLabel string
	Photo         []byte
}

// Assessment is the scoring outcome of one submission
type Assessment struct {
	Confidence int
	Status     models.ReportStatus
	Evidence   []models.Evidence
	// Image is nil when no photo was analyzed successfully.
	Image *signals.ImageAnalysis
}

// FailureObserver is notified when an adapter could not produce a signal
type FailureObserver func(signal string, err error)

// Calculator scores submissions. Its adapters are injected; either may be nil,
// in which case that signal is always unavailable.
type Calculator struct {
	text      signals.TextScorer
	image     signals.ImageAnalyzer
	timeout   time.Duration
	now       func() time.Time
	onFailure FailureObserver
}

// NewCalculator creates a calculator that gives each adapter call at most timeout
func NewCalculator(text signals.TextScorer, image signals.ImageAnalyzer, timeout time.Duration) *Calculator {
	return &Calculator{
		text:    text,
		image:   image,
		timeout: timeout,
		now:     time.Now,
	}
}

// WithClock overrides the clock used to timestamp evidence
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// OnFailure registers an observer for adapter failures
func (c *Calculator) OnFailure(fn FailureObserver) *Calculator {
	c.onFailure = fn
	return c
}

func (c *Calculator) failed(signal string, err error) {
	log.WithError(err).WithField("signal", signal).Warn("signal unavailable, using neutral default")
	if c.onFailure != nil {
		c.onFailure(signal, err)
	}
}

func (c *Calculator) scoreText(ctx context.Context, s Submission) (*float64, error) {
	if c.text == nil {
		return nil, signals.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.text.ScoreText(ctx, signals.TextInput{
		Category:      string(s.Category),
		Description:   s.Description,
		LocationLabel: s.LocationLabel,
		Severity:      string(s.Severity),
		HasPhoto:      len(s.Photo) > 0,
	})
	if err != nil {
		return nil, err
	}
	f := float64(v)
	if !validSignal(&f) {
		return nil, fmt.Errorf("text score %d out of range", v)
	}
	return &f, nil
}

func (c *Calculator) analyzeImage(ctx context.Context, photo []byte) (*signals.ImageAnalysis, error) {
	if c.image == nil {
		return nil, signals.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	a, err := c.image.AnalyzeImage(ctx, photo)
	if err != nil {
		return nil, err
	}
	if a == nil || !a.Success {
		return nil, fmt.Errorf("image analysis unsuccessful")
	}
	if !validSignal(&a.Score) {
		return nil, fmt.Errorf("image score %v out of range", a.Score)
	}
	return a, nil
}

// Evaluate runs the adapters concurrently and fuses their output into an
// assessment. Adapter failures never fail the evaluation.
func (c *Calculator) Evaluate(ctx context.Context, s Submission) Assessment {
	var (
		wg       sync.WaitGroup
		text     *float64
		textErr  error
		image    *signals.ImageAnalysis
		imageErr error
	)
	hasPhoto := len(s.Photo) > 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		text, textErr = c.scoreText(ctx, s)
	}()
	if hasPhoto {
		wg.Add(1)
		go func() {
			defer wg.Done()
			image, imageErr = c.analyzeImage(ctx, s.Photo)
		}()
	}
	wg.Wait()

	now := c.now().UTC()
	evidence := make([]models.Evidence, 0, 6)

	if textErr != nil {
		c.failed(models.EvidenceTextSignal, textErr)
		evidence = append(evidence, models.Evidence{
			Source:    models.EvidenceTextSignal,
			Score:     NeutralSignal,
			Detail:    "text scorer unavailable, neutral default applied",
			CreatedAt: now,
		})
	} else {
		evidence = append(evidence, models.Evidence{
			Source:    models.EvidenceTextSignal,
			Score:     *text,
			Detail:    "text plausibility score",
			CreatedAt: now,
		})
	}

	var imageScore *float64
	switch {
	case !hasPhoto:
	case imageErr != nil:
		c.failed(models.EvidenceImageSignal, imageErr)
		evidence = append(evidence, models.Evidence{
			Source:    models.EvidenceImageSignal,
			Score:     0,
			Detail:    "image analyzer unavailable, scored from text alone",
			CreatedAt: now,
		})
	default:
		imageScore = &image.Score
		evidence = append(evidence, models.Evidence{
			Source:    models.EvidenceImageSignal,
			Score:     image.Score,
			Detail:    fmt.Sprintf("image credibility score, safety rating %s, %d labels", image.SafetyRating, len(image.Labels)),
			CreatedAt: now,
		})
	}

	hasLocation := s.LocationName != ""
	descLen := utf8.RuneCountInString(s.Description)
	if hasPhoto {
		evidence = append(evidence, models.Evidence{Source: models.EvidencePhotoBonus, Score: photoBonus, Detail: "photo attached", CreatedAt: now})
	}
	if hasLocation {
		evidence = append(evidence, models.Evidence{Source: models.EvidenceLocationBonus, Score: locationBonus, Detail: "location name supplied", CreatedAt: now})
	}
	if descLen > longDescriptionRunes {
		evidence = append(evidence, models.Evidence{
			Source:    models.EvidenceDescriptionBonus,
			Score:     descriptionBonus,
			Detail:    fmt.Sprintf("description of %d characters", descLen),
			CreatedAt: now,
		})
	}

	confidence := ComputeConfidence(text, imageScore, hasPhoto, hasLocation, descLen)
	status := Decide(confidence)
	evidence = append(evidence, models.Evidence{
		Source:    models.EvidenceFinal,
		Score:     float64(confidence),
		Detail:    fmt.Sprintf("confidence %d, %s (threshold %d)", confidence, status, models.PublishThreshold),
		CreatedAt: now,
	})

	a := Assessment{
		Confidence: confidence,
		Status:     status,
		Evidence:   evidence,
	}
	if imageScore != nil {
		a.Image = image
	}
	return a
}
