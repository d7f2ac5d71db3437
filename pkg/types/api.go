package types

// ChatRequest is the body accepted by POST /chat and POST /chat_stream.
type ChatRequest struct {
	// User message to answer. Required.
	// example: hey cadmonkey, make me a cube
	Message string `json:"message" example:"hey cadmonkey, make me a cube"`
	// Maximum number of output units. Omitted or non-positive uses the server default.
	// example: 256
	MaxTokens *int `json:"max_tokens,omitempty" example:"256"`
	// Sampling temperature in [0, 2]. Omitted uses the server default.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
}

// ChatResponse is returned by POST /chat on success.
type ChatResponse struct {
	// Cleaned model output.
	// example: cube([10, 10, 10]);
	Response string `json:"response" example:"cube([10, 10, 10]);"`
	// Echo of the request message.
	// example: hey cadmonkey, make me a cube
	Message string `json:"message" example:"hey cadmonkey, make me a cube"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: cadmonkey-1b
	Model string `json:"model" example:"cadmonkey-1b"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: No message provided
	Error string `json:"error" example:"No message provided"`
	// HTTP status code.
	// example: 400
	Code int `json:"code,omitempty" example:"400"`
}
