// Command trivector runs the realtime collaboration server.
package main

import (
	"log"

	"trivector/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
