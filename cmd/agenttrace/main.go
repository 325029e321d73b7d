package main

import (
	"github.com/DrSkyle/agenttrace/cmd/agenttrace/commands"
)

func main() {
	commands.Execute()
}
