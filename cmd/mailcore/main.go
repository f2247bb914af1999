// Command mailcore inspects and maintains the shared mail file, the instance
// directory and network addressing of a running board.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const version = "0.3.0"

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
