package main

import "github.com/23skdu/quarrel-chat/internal/commands"

func main() {
	commands.Execute()
}
