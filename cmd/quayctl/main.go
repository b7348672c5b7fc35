package main

import (
	"log"

	"github.com/quayhook/quayhook/cmd/quayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
