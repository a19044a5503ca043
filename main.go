package main

import (
	"os"

	"github.com/signalnine/judgebench/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
