package main

import "github.com/chadmayfield/aquachroma/cmd"

func main() {
	cmd.Execute()
}
