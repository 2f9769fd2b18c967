package main

import "github.com/appack-build/appack/cmd"

func main() {
	cmd.Execute()
}
