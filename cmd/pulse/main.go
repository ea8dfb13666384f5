package main

import (
	"log"

	"github.com/Tureluurtje/Pulse/cmd/internal/app"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := app.Run(version); err != nil {
		log.Fatal(err)
	}
}
