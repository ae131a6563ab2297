package main

import (
	"github.com/tanpawarit/agentic-research-assistant/cmd"
	_ "github.com/tanpawarit/agentic-research-assistant/pkg/logger/autoload"
)

func main() {
	cmd.Execute()
}
