package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"saferoute/geo"
	"saferoute/middleware"
	"saferoute/models"
	"saferoute/service"
	"saferoute/version"
	ws "saferoute/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

// ServiceName identifies this service in health and version responses
const ServiceName = "saferoute"

// BusStatus reports whether the message bus connection is up
type BusStatus interface {
	IsConnected() bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	svc *service.Service
	hub *ws.Hub
	bus BusStatus
}

// NewHandlers creates a new handlers instance. bus may be nil when no broker
// is configured.
func NewHandlers(svc *service.Service, hub *ws.Hub, bus BusStatus) *Handlers {
	return &Handlers{svc: svc, hub: hub, bus: bus}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondError maps service errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

// RegisterUser handles POST /users for the authenticated caller
func (h *Handlers) RegisterUser(c *gin.Context) {
	profile, err := h.svc.RegisterUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "reputation": profile})
}

// GetReputation handles GET /users/:id/reputation
func (h *Handlers) GetReputation(c *gin.Context) {
	profile, err := h.svc.Reputation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reputation": profile})
}

// SubmitReport handles POST /reports
func (h *Handlers) SubmitReport(c *gin.Context) {
	var req models.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.svc.SubmitReport(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetReport handles GET /reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	report, err := h.svc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// AddComment handles POST /reports/:id/comments
func (h *Handlers) AddComment(c *gin.Context) {
	var req models.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	comment, err := h.svc.AddComment(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "comment": comment})
}

// ListComments handles GET /reports/:id/comments
func (h *Handlers) ListComments(c *gin.Context) {
	comments, err := h.svc.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comments": comments, "count": len(comments)})
}

func optionalFloat(c *gin.Context, name string) (*float64, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

func optionalInt(c *gin.Context, name string) (int, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func feedQuery(c *gin.Context) (service.FeedQuery, bool) {
	var q service.FeedQuery
	var ok bool
	if q.Latitude, ok = optionalFloat(c, "lat"); !ok {
		fail(c, http.StatusBadRequest, "Invalid 'lat' parameter")
		return q, false
	}
	if q.Longitude, ok = optionalFloat(c, "lng"); !ok {
		fail(c, http.StatusBadRequest, "Invalid 'lng' parameter")
		return q, false
	}
	if radius, ok := optionalFloat(c, "radius_km"); !ok {
		fail(c, http.StatusBadRequest, "Invalid 'radius_km' parameter")
		return q, false
	} else if radius != nil {
		q.RadiusKm = *radius
	}
	if q.Offset, ok = optionalInt(c, "offset"); !ok {
		fail(c, http.StatusBadRequest, "Invalid 'offset' parameter")
		return q, false
	}
	if q.Limit, ok = optionalInt(c, "limit"); !ok {
		fail(c, http.StatusBadRequest, "Invalid 'limit' parameter")
		return q, false
	}
	return q, true
}

// GetFeed handles GET /feed. format=geojson renders the page as a
// FeatureCollection instead of the JSON envelope.
func (h *Handlers) GetFeed(c *gin.Context) {
	q, ok := feedQuery(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "geojson" {
		fail(c, http.StatusBadRequest, "Invalid 'format' parameter. Must be json or geojson.")
		return
	}

	page, err := h.svc.Feed(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if format == "geojson" {
		c.JSON(http.StatusOK, geo.FeatureCollection(page.Items))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "feed": page})
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ListenFeed handles GET /feed/live. With lat, lng and radius_km the client
// only receives reports inside that area.
func (h *Handlers) ListenFeed(c *gin.Context) {
	q, ok := feedQuery(c)
	if !ok {
		return
	}
	var area *ws.Area
	if q.Latitude != nil && q.Longitude != nil {
		center := geo.Point{Lat: *q.Latitude, Lng: *q.Longitude}
		if !center.Valid() || q.RadiusKm < 0 {
			fail(c, http.StatusBadRequest, "Invalid live feed area")
			return
		}
		radius := q.RadiusKm
		if radius == 0 {
			radius = 10
		}
		area = &ws.Area{Center: center, RadiusKm: radius}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade connection to WebSocket")
		return
	}

	client := ws.NewClient(h.hub, conn, area)
	if !h.hub.Join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	log.WithField("remote", c.ClientIP()).Debug("WebSocket connection established")
}

// CompareRoutes handles POST /routes
func (h *Handlers) CompareRoutes(c *gin.Context) {
	var req models.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	cmp, err := h.svc.Routes(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "routes": cmp})
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	connectedClients, _ := h.hub.GetStats()
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:           "healthy",
		Service:          ServiceName,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: connectedClients,
		BusConnected:     h.bus != nil && h.bus.IsConnected(),
	})
}

// Version returns build information
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get(ServiceName))
}
