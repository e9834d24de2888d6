package main

import "github.com/timerhsenso/sentinela/cmd"

func main() {
	cmd.Execute()
}
