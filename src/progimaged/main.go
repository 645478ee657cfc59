package main

import "github.com/progimage/progimage/src/progimaged/cmd"

func main() {
	cmd.Execute()
}
