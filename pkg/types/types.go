package types

// TokenEvent carries one content fragment on /chat_stream.
type TokenEvent struct {
	Token string `json:"token"`
}

// DoneEvent terminates a successful stream.
type DoneEvent struct {
	Done bool `json:"done"`
}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Error string `json:"error"`
}
