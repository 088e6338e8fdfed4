package models

// SubmitReportRequest is the body of a report submission.
// Photo is base64-encoded image data.
type SubmitReportRequest struct {
	Category     string   `json:"category" binding:"required"`
	Description  string   `json:"description" binding:"required"`
	Severity     string   `json:"severity" binding:"required"`
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	LocationName string   `json:"location_name"`
	Photo        string   `json:"photo"`
}

// SubmitReportResponse is returned after a report has been scored and stored
type SubmitReportResponse struct {
	Success    bool     `json:"success"`
	Report     *Report  `json:"report"`
	Reputation *Profile `json:"reputation"`
}

// AddCommentRequest is the body of a comment submission
type AddCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

// RouteRequest asks for the three route variants between two points
type RouteRequest struct {
	OriginLat      *float64 `json:"origin_lat" binding:"required"`
	OriginLng      *float64 `json:"origin_lng" binding:"required"`
	DestinationLat *float64 `json:"destination_lat" binding:"required"`
	DestinationLng *float64 `json:"destination_lng" binding:"required"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
	BusConnected     bool   `json:"bus_connected"`
}
