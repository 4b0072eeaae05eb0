package main

import (
	"ringba-rpc-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
