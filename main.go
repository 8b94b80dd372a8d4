package main

import (
	"github.com/luma/kvcheck/cmd"
)

func main() {
	cmd.Execute()
}
