package main

import "github.com/togglehq/gatehouse/cmd/gatehouse/cmd"

func main() {
	cmd.Execute()
}
