package main

import "github.com/creastat/craftbot/cmd"

func main() {
	cmd.Execute()
}
