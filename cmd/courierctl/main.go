package main

import (
	"os"

	"github.com/couriermsg/courier/cmd/courierctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
