package main

import "rigforge/cmd"

func main() {
	cmd.Execute()
}
