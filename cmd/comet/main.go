package main

import (
	"log"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
