package main

// General API documentation for swaggo. Run `swag init -g cmd/cadmonkeyd/docs.go` to regenerate.
//
// @title           cadmonkey API
// @version         1.0
// @description     Chat completions for the OpenSCAD code model, batch and streamed over SSE.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
