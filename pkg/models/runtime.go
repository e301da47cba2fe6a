package models

// RuntimeInfo describes the companion's local endpoints and state. The UI
// fetches it once at startup to discover the HTTP and WebSocket base URLs.
type RuntimeInfo struct {
	Version       string `json:"version"`
	HTTPBaseURL   string `json:"http_base_url"`
	WSBaseURL     string `json:"ws_base_url"`
	Port          int    `json:"port"`
	Authenticated bool   `json:"authenticated"`
}
