package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/fabrpc/internal/config"
)

func main() {
	out := flag.String("out", "", "write the default config here instead of stdout")
	flag.Parse()

	data, err := config.Marshal(config.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	if *out == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}
