package main

import (
	"os"

	"github.com/AccessMirror/AccessMirror/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
