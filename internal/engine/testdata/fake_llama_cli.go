package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// A stand-in for llama-cli. FAKE_LLAMA_MODE selects the behavior; when
// FAKE_LLAMA_ARGS_FILE is set the argument list is written there, one per line.
func main() {
	var (
		model    string
		prompt   string
		n        int
		temp     float64
		threads  int
		ctxSize  int
		gpu      int
		noPrompt bool
	)
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&prompt, "p", "", "prompt")
	flag.IntVar(&n, "n", 0, "tokens to predict")
	flag.Float64Var(&temp, "temp", 0.8, "temperature")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.IntVar(&ctxSize, "c", 0, "context size")
	flag.IntVar(&gpu, "ngl", 0, "gpu layers")
	flag.BoolVar(&noPrompt, "no-display-prompt", false, "do not echo the prompt")
	flag.Parse()

	if p := os.Getenv("FAKE_LLAMA_ARGS_FILE"); p != "" {
		_ = os.WriteFile(p, []byte(strings.Join(os.Args[1:], "\n")), 0o644)
	}

	out := os.Stdout
	switch os.Getenv("FAKE_LLAMA_MODE") {
	case "stall":
		fmt.Fprintln(out, "Assistant: cube(1);")
		time.Sleep(time.Minute)
	case "endless":
		for i := 0; ; i++ {
			fmt.Fprintf(out, "line %d\n", i)
			time.Sleep(5 * time.Millisecond)
		}
	case "stop":
		fmt.Fprintln(out, "Assistant: sphere(r = 2);")
		fmt.Fprintln(out, "translate([1, 0, 0]) cube(2);User: another")
		fmt.Fprintln(out, "never forwarded")
		time.Sleep(time.Minute)
	case "partial":
		// A multi-byte rune split across writes and no final newline.
		fmt.Fprint(out, "Assistant: caf\xc3")
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(out, "\xa9\r\nlast line without newline")
	case "fail":
		fmt.Fprintln(os.Stderr, "error: failed to load model '"+model+"'")
		os.Exit(1)
	case "crash":
		fmt.Fprintln(out, "Assistant: cube(1);")
		fmt.Fprintln(os.Stderr, "GGML_ASSERT: ggml.c:4321: ctx->mem_buffer != NULL")
		os.Exit(134)
	case "nextturn":
		fmt.Fprintln(out, "Assistant: cube(1);User: make me a sphere")
		fmt.Fprintln(out, "Assistant: sphere(5);")
	case "slow":
		time.Sleep(time.Minute)
		fmt.Fprintln(out, "Assistant: too late")
	default:
		if !noPrompt {
			fmt.Fprintln(out, prompt)
		}
		fmt.Fprintln(os.Stderr, "Loading model... done")
		fmt.Fprintln(out, "llama_memory_breakdown_print: | memory breakdown [MiB] |")
		fmt.Fprintln(out, ">>>>>>>>>>>>")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Assistant: cube([10, 10, 10]);")
		fmt.Fprintln(out, "if (value > 5 and < 10) sphere(r = 3);")
		fmt.Fprintln(out, "translate([0, 0, 5]) cylinder(h = 4, r = 1);")
		fmt.Fprintln(out, "[ Prompt: 41.2 t/s | Generation: 12.9 t/s ]")
		fmt.Fprintln(out, "Exiting...")
	}
}
