package main

import "github.com/engram-sh/engram/cmd/engram/cli"

func main() {
	cli.Execute()
}
