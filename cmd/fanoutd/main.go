// Command fanoutd runs the webhook fan-out relay as a standalone service.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
