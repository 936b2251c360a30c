package main

import "github.com/samsaffron/cmd2ai/cmd"

func main() {
	cmd.Execute()
}
