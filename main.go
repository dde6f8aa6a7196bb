package main

import "github.com/rankwatch/rankwatch/cmd"

func main() {
	cmd.Execute()
}
