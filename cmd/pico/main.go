package main

import "github.com/SlappyBacon/pico/internal/cli/cmd"

func main() {
	cmd.Execute()
}
