package types

// Model describes the model served by this worker.
type Model struct {
	// Name reported by /health.
	// example: cadmonkey-1b
	Name string `json:"name" example:"cadmonkey-1b"`
	// Absolute path to the model file on disk.
	// example: /opt/models/cadmonkey-1b.gguf
	Path string `json:"path" example:"/opt/models/cadmonkey-1b.gguf"`
	// Quantization suffix parsed from the filename, if any.
	// example: q8_0
	Quant string `json:"quant,omitempty" example:"q8_0"`
}
