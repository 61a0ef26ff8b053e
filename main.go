package main

import "github.com/staffctl/staffctl/cmd"

func main() {
	cmd.Execute()
}
