package main

import "echohub/cmd/cli/command"

func main() {
	command.Execute()
}
