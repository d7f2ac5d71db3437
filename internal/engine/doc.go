// Package engine runs chat inference against a small language model and
// bridges its output to clients. It is structured into small files by concern:
//
//   - service.go: Service, Config and request defaults; Chat and ChatStream entry points.
//   - admission.go: bounded queue plus execution slots (429 on overflow).
//   - prompt.go: PromptTemplate (User:/Assistant: transcript and stop sequence).
//   - request.go: InferenceRequest and its validation.
//   - launcher.go: Launcher and ProcessHandle (spawn, destroy exactly once).
//   - reader.go: LineBuffer and the bounded-wait Reader.
//   - filter.go: noise and filler classification, batch transcript cleanup.
//   - supervisor.go: StreamClock and the wall/idle/unit Supervisor.
//   - stream.go: the polling loop that drives one streaming session.
//   - batch.go: the run-to-completion path.
//   - emitter.go: OutputEvent and the single-terminal EventStream.
//   - events.go, metrics.go: lifecycle events and Prometheus collectors.
//
// Build tags and runtimes:
//
//   - Subprocess (default): one llama-cli process per request. No CGO.
//
//   - In-process llama: go-llama.cpp adapter, enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub is compiled when the tag is not set: adapter_llama_stub.go.
package engine
