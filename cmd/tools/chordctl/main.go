package main

import "github.com/zhouzirui/aaroh/backend/cmd/tools/chordctl/cmd"

func main() {
	cmd.Execute()
}
