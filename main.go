package main

import "github.com/kozaktomas/doorbell-identify/cmd"

func main() {
	cmd.Execute()
}
