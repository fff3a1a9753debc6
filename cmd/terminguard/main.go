package main

import "github.com/jmcleod/terminguard/cmd/terminguard/cmd"

func main() {
	cmd.Execute()
}
