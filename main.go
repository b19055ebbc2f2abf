package main

import "github.com/kiesman99/reproject/cmd"

func main() {
	cmd.Execute()
}
