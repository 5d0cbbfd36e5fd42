package main

import (
	"attune/cmd/cmd"
)

func main() {
	cmd.Execute()
}
