package main

import "github.com/agora-labs/agora/cmd"

func main() {
	cmd.Execute()
}
