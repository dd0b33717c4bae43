package main

import "ollama-chat/internal/cli"

func main() {
	cli.Execute()
}
