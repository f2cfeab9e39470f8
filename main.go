package main

import "github.com/encodeous/dvpn/cmd"

func main() {
	cmd.Execute()
}
