package main

import (
	"log"

	"viafaucet/services/faucetd"
)

func main() {
	if err := faucetd.Main(); err != nil {
		log.Fatalf("faucetd: %v", err)
	}
}
