package main

import (
	"log"

	"github.com/rangemesh/rangemesh/internal/logger"
)

func main() {
	if err := logger.Init("rangemesh.log"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	Execute()
}
