package websocket

// Frame types exchanged over the connection.
const (
	FrameAuth          = "auth"
	FramePing          = "ping"
	FrameAuthenticated = "authenticated"
	FrameAuthError     = "auth_error"
	FramePong          = "pong"
	FrameNotification  = "notification"
)

// Notification is the payload pushed to connected users.
type Notification struct {
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Priority    string                 `json:"priority"`
	ActionURL   string                 `json:"actionUrl,omitempty"`
	RelatedData map[string]interface{} `json:"relatedData,omitempty"`
}

// inboundFrame is any client->server frame.
type inboundFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type authenticatedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type authErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type notificationFrame struct {
	Type string       `json:"type"`
	Data Notification `json:"data"`
}
