package main

import "uploadhub/cmd"

func main() {
	cmd.Execute()
}
