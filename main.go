package main

import "github.com/seqforge/gomlsa/cmd"

func main() {
	cmd.Execute()
}
