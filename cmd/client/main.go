package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/gobulletin/internal/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := client.LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	addr := flag.String("addr", "", "server address (host:port) to connect to at start")
	flag.Parse()

	c := client.New(cfg, os.Stdout, logs.GetLoggerFromString("WARN"))
	if *addr != "" {
		if err := c.Connect(*addr); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return c.Run(os.Stdin)
}
