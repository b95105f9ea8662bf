package main

import "fleetrelay/cmd/relay-cli/command"

func main() {
	command.Execute()
}
