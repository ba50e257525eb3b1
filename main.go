package main

import "github.com/edulab/lrsync/cmd"

func main() {
	cmd.Execute()
}
