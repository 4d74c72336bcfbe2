package main

import (
	"github.com/MeKo-Tech/pagelens/cmd/pagelens/cmd"
)

func main() {
	cmd.Execute()
}
