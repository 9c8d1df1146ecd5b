package main

import "github.com/kvflood/kvflood/cmd"

func main() {
	cmd.Execute()
}
