// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby and notification streams.
const (
	BadSubprotocolError   = 3000 // client connected with an unsupported subprotocol
	InvalidAuthTokenError = 3001 // auth token was missing, invalid or expired
	InvalidLobbyIDError   = 3003 // target lobby in the WS URL does not exist
)
