package main

import (
	"gitlab.com/shar-workflow/bpmnrt/server/commands"
)

func main() {
	commands.Execute()
}
