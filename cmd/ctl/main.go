package main

import "card-market-tracker/cmd/ctl/cmd"

func main() {
	cmd.Execute()
}
