// Command conductor is a reverse-proxying scheduler that spreads OpenAI-
// compatible chat completion requests across multiple LLM provider API keys,
// rotating on rate limits and failures.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alcray/trainforge-conductor/internal/config"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.ResolveConfigPath("config/config.yaml"), "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("conductor", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
