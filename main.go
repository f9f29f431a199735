package main

import "github.com/marlinkv/marlin/cmd"

func main() {
	cmd.Execute()
}
