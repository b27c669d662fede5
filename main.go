package main

import "github.com/brensch/setfetch/cmd"

func main() {
	cmd.Execute()
}
