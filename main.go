package main

import "github.com/cocode/agent-core/cmd"

func main() {
	cmd.Execute()
}
