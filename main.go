package main

import "github.com/prootgo/prootgo/cmd"

func main() {
	cmd.Execute()
}
