package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"saferoute/config"
	"saferoute/database"
	"saferoute/geo"
	"saferoute/image"
	"saferoute/metrics"
	"saferoute/models"
	"saferoute/reputation"
	"saferoute/routing"
	"saferoute/scoring"
	"saferoute/signals"

	"github.com/apex/log"
	"github.com/google/uuid"
)

const (
	maxDescriptionRunes = 2000
	maxCommentRunes     = 1000
	maxPhotoBytes       = 10 << 20
	maxFeedRadiusKm     = 500.0
	maxFeedPageSize     = 100
	// maxFeedScan bounds the rows read from the rectangle pre-filter per request.
	maxFeedScan = 1000
)

var (
	// ErrInvalidInput wraps every validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for unknown or expired reports and unknown users
	ErrNotFound = errors.New("not found")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ReportStore persists reports and their comments
type ReportStore interface {
	SaveReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string, now time.Time) (*models.Report, error)
	ListPublishedInRect(ctx context.Context, b geo.Bounds, now time.Time, limit int) ([]models.Report, error)
	AddComment(ctx context.Context, c *models.Comment, now time.Time) error
	ListComments(ctx context.Context, reportID string, now time.Time) ([]models.Comment, error)
}

// EventPublisher emits report events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, message interface{}) error
}

// Broadcaster pushes published reports to live feed subscribers
type Broadcaster interface {
	BroadcastReport(report models.Report)
}

// Dependencies are the collaborators of a Service. Geocoder, Publisher and
// Broadcaster are optional.
type Dependencies struct {
	Calculator  *scoring.Calculator
	Ledger      *reputation.Ledger
	Reports     ReportStore
	Geocoder    signals.Geocoder
	Publisher   EventPublisher
	Broadcaster Broadcaster
}

// Service runs the report submission, feed, routing and discussion pipelines
type Service struct {
	calculator  *scoring.Calculator
	ledger      *reputation.Ledger
	reports     ReportStore
	geocoder    signals.Geocoder
	publisher   EventPublisher
	broadcaster Broadcaster
	scorer      *routing.Scorer

	geocodeTimeout  time.Duration
	feedRadiusKm    float64
	feedPageSize    int
	routeCorridorKm float64

	now   func() time.Time
	newID func() string
}

// NewService creates a service
func NewService(cfg *config.Config, deps Dependencies) *Service {
	return &Service{
		calculator:      deps.Calculator,
		ledger:          deps.Ledger,
		reports:         deps.Reports,
		geocoder:        deps.Geocoder,
		publisher:       deps.Publisher,
		broadcaster:     deps.Broadcaster,
		scorer:          routing.NewScorer(cfg.Currency),
		geocodeTimeout:  cfg.GeocodeTimeout,
		feedRadiusKm:    cfg.FeedDefaultRadiusKm,
		feedPageSize:    cfg.FeedPageSize,
		routeCorridorKm: cfg.RouteCorridorKm,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// RegisterUser creates the default reputation profile of a new account
func (s *Service) RegisterUser(ctx context.Context, userID string) (*models.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user id is required")
	}
	p, err := s.ledger.Register(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return p, nil
}

// Reputation returns the reputation profile of userID
func (s *Service) Reputation(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.ledger.Profile(ctx, userID)
	if errors.Is(err, reputation.ErrProfileNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reputation: %w", err)
	}
	return p, nil
}

type submission struct {
	category    models.Category
	severity    models.Severity
	description string
	point       geo.Point
	location    string
	photo       []byte
}

func validateSubmission(req *models.SubmitReportRequest) (*submission, error) {
	category, ok := models.ParseCategory(req.Category)
	if !ok {
		return nil, invalid("category %q is not supported", req.Category)
	}
	severity, ok := models.ParseSeverity(req.Severity)
	if !ok {
		return nil, invalid("severity %q is not supported", req.Severity)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, invalid("description is required")
	}
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return nil, invalid("description exceeds %d characters", maxDescriptionRunes)
	}
	if req.Latitude == nil || req.Longitude == nil {
		return nil, invalid("latitude and longitude are required")
	}
	point := geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	if !point.Valid() {
		return nil, invalid("coordinates (%v, %v) are out of range", point.Lat, point.Lng)
	}

	sub := &submission{
		category:    category,
		severity:    severity,
		description: description,
		point:       point,
		location:    strings.TrimSpace(req.LocationName),
	}
	if req.Photo != "" {
		photo, err := base64.StdEncoding.DecodeString(req.Photo)
		if err != nil {
			return nil, invalid("photo is not valid base64")
		}
		if len(photo) > maxPhotoBytes {
			return nil, invalid("photo exceeds %d bytes", maxPhotoBytes)
		}
		sub.photo = photo
	}
	return sub, nil
}

func (s *Service) place(ctx context.Context, p geo.Point) *signals.Place {
	if s.geocoder == nil {
		return signals.UnknownPlace()
	}
	ctx, cancel := context.WithTimeout(ctx, s.geocodeTimeout)
	defer cancel()

	place, err := s.geocoder.ReverseGeocode(ctx, p.Lat, p.Lng)
	if err != nil || place == nil {
		log.WithError(err).Warn("reverse geocoding failed, using defaults")
		return signals.UnknownPlace()
	}
	return place
}

// SubmitReport validates, scores and stores a report, updates the submitter's
// reputation and announces the report when it is published. Signal and
// geocoding failures degrade to defaults; only validation and persistence
// errors fail the submission.
func (s *Service) SubmitReport(ctx context.Context, userID string, req *models.SubmitReportRequest) (*models.SubmitReportResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user id is required")
	}
	sub, err := validateSubmission(req)
	if err != nil {
		return nil, err
	}

	if len(sub.photo) > 0 {
		if compressed, err := image.CompressImage(sub.photo); err != nil {
			log.WithError(err).Warn("photo compression failed, keeping original bytes")
		} else {
			sub.photo = compressed
		}
	}

	place := s.place(ctx, sub.point)
	label := sub.location
	if label == "" {
		label = place.FormattedAddress
	}

	started := time.Now()
	assessment := s.calculator.Evaluate(ctx, scoring.Submission{
		Category:      sub.category,
		Description:   sub.description,
		Severity:      sub.severity,
		LocationName:  sub.location,
		LocationLabel: label,
		Photo:         sub.photo,
	})
	metrics.ScoringDurationSeconds.Observe(time.Since(started).Seconds())

	var img *reputation.ImageResult
	if assessment.Image != nil {
		img = &reputation.ImageResult{
			Score:                assessment.Image.Score,
			Labels:               assessment.Image.LabelNames(),
			SafetyViolationCount: assessment.Image.SafetyViolations(),
		}
	}
	profile, err := s.ledger.ApplyReport(ctx, userID, float64(assessment.Confidence), img)
	if err != nil {
		return nil, fmt.Errorf("failed to update reputation: %w", err)
	}

	now := s.clock()
	report := &models.Report{
		ID:           s.newID(),
		UserID:       userID,
		Category:     sub.category,
		Description:  sub.description,
		Severity:     sub.severity,
		Latitude:     sub.point.Lat,
		Longitude:    sub.point.Lng,
		LocationName: sub.location,
		City:         place.City,
		Region:       place.Region,
		Address:      place.FormattedAddress,
		HasPhoto:     len(sub.photo) > 0,
		Photo:        sub.photo,
		Confidence:   assessment.Confidence,
		Status:       assessment.Status,
		Evidence:     assessment.Evidence,
		CreatedAt:    now,
		ExpiresAt:    now.Add(models.ReportTTL),
	}
	if err := s.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	metrics.ReportsSubmitted.WithLabelValues(string(report.Status)).Inc()
	metrics.ReportConfidence.Observe(float64(report.Confidence))
	log.WithFields(log.Fields{
		"report_id":  report.ID,
		"user_id":    userID,
		"category":   report.Category,
		"confidence": report.Confidence,
		"status":     report.Status,
	}).Info("report scored")

	if report.Status == models.StatusPublished {
		s.announce(ctx, report)
	}

	return &models.SubmitReportResponse{
		Success:    true,
		Report:     report,
		Reputation: profile,
	}, nil
}

func (s *Service) announce(ctx context.Context, r *models.Report) {
	if s.publisher != nil {
		msg := models.ReportPublishedMessage{
			ID:         r.ID,
			UserID:     r.UserID,
			Category:   r.Category,
			Severity:   r.Severity,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			Confidence: r.Confidence,
			CreatedAt:  r.CreatedAt,
			ExpiresAt:  r.ExpiresAt,
		}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			log.WithError(err).WithField("report_id", r.ID).Warn("failed to publish report event")
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastReport(*r)
	}
}

// GetReport returns a report that has not expired
func (s *Service) GetReport(ctx context.Context, id string) (*models.Report, error) {
	now := s.clock()
	r, err := s.reports.GetReport(ctx, id, now)
	if errors.Is(err, database.ErrReportNotFound) || (err == nil && r.Expired(now)) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

// live keeps the reports still visible at now
func live(reports []models.Report, now time.Time) []models.Report {
	out := reports[:0]
	for _, r := range reports {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// FeedQuery selects a page of the published feed. Without a center every
// published report is listed, newest first, with no distance.
type FeedQuery struct {
	Latitude  *float64
	Longitude *float64
	RadiusKm  float64
	Offset    int
	Limit     int
}

// FeedPage is one page of feed items
type FeedPage struct {
	Items  []models.FeedItem `json:"items"`
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

var world = geo.Bounds{LatMin: -90, LatMax: 90, LngMin: -180, LngMax: 180}

// Feed lists published, non-expired reports around an optional center, nearest first
func (s *Service) Feed(ctx context.Context, q FeedQuery) (*FeedPage, error) {
	if (q.Latitude == nil) != (q.Longitude == nil) {
		return nil, invalid("latitude and longitude must be given together")
	}
	radius := q.RadiusKm
	if radius == 0 {
		radius = s.feedRadiusKm
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 || radius > maxFeedRadiusKm {
		return nil, invalid("radius must be between 0 and %v km", maxFeedRadiusKm)
	}
	limit := q.Limit
	if limit == 0 {
		limit = s.feedPageSize
	}
	if limit < 0 || limit > maxFeedPageSize || q.Offset < 0 {
		return nil, invalid("limit must be between 1 and %d and offset non-negative", maxFeedPageSize)
	}

	var center *geo.Point
	bounds := world
	if q.Latitude != nil {
		center = &geo.Point{Lat: *q.Latitude, Lng: *q.Longitude}
		if !center.Valid() {
			return nil, invalid("coordinates (%v, %v) are out of range", center.Lat, center.Lng)
		}
		bounds = geo.BoundingRect(*center, radius)
	}

	now := s.clock()
	reports, err := s.reports.ListPublishedInRect(ctx, bounds, now, maxFeedScan)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}
	items := geo.Filter(center, radius, live(reports, now))

	page := &FeedPage{Items: []models.FeedItem{}, Total: len(items), Offset: q.Offset, Limit: limit}
	if q.Offset < len(items) {
		end := q.Offset + limit
		if end > len(items) {
			end = len(items)
		}
		page.Items = items[q.Offset:end]
	}
	return page, nil
}

// Routes compares the route variants between two points, taking into account
// the published incidents in the corridor around the straight line.
func (s *Service) Routes(ctx context.Context, req *models.RouteRequest) (*routing.Comparison, error) {
	if req.OriginLat == nil || req.OriginLng == nil || req.DestinationLat == nil || req.DestinationLng == nil {
		return nil, invalid("origin and destination coordinates are required")
	}
	origin := geo.Point{Lat: *req.OriginLat, Lng: *req.OriginLng}
	destination := geo.Point{Lat: *req.DestinationLat, Lng: *req.DestinationLng}
	if !origin.Valid() || !destination.Valid() {
		return nil, invalid("origin and destination must be valid coordinates")
	}

	mid := geo.Midpoint(origin, destination)
	radius := geo.DistanceKm(origin, destination)/2 + s.routeCorridorKm
	now := s.clock()

	reports, err := s.reports.ListPublishedInRect(ctx, geo.BoundingRect(mid, radius), now, maxFeedScan)
	if err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}

	items := geo.Filter(&mid, radius, live(reports, now))
	incidents := make([]routing.Incident, 0, len(items))
	for _, it := range items {
		incidents = append(incidents, routing.Incident{
			Category: it.Report.Category,
			Severity: it.Report.Severity,
			Age:      now.Sub(it.Report.CreatedAt),
		})
	}

	cmp := s.scorer.Score(origin, destination, incidents)
	metrics.RouteRecommendations.WithLabelValues(cmp.Recommended).Inc()
	return &cmp, nil
}

// AddComment attaches a discussion comment to a live report
func (s *Service) AddComment(ctx context.Context, reportID, userID, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalid("comment body is required")
	}
	if utf8.RuneCountInString(body) > maxCommentRunes {
		return nil, invalid("comment exceeds %d characters", maxCommentRunes)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user id is required")
	}

	now := s.clock()
	c := &models.Comment{
		ID:        s.newID(),
		ReportID:  reportID,
		UserID:    userID,
		Body:      body,
		CreatedAt: now,
		ExpiresAt: now.Add(models.CommentTTL),
	}
	err := s.reports.AddComment(ctx, c, now)
	if errors.Is(err, database.ErrReportNotFound) {
		return nil, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	return c, nil
}

// ListComments returns the live comments of a live report, oldest first
func (s *Service) ListComments(ctx context.Context, reportID string) ([]models.Comment, error) {
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	comments, err := s.reports.ListComments(ctx, reportID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}
