package time_authority_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:8000"

	// API Endpoints
	TimeEndpoint = "/v1/time"

	// Headers
	AcceptHeader = "Accept"
	JSONMimeType = "application/json"
)
