package main

import (
	"github.com/flow-state-networks/state-exchange/app/internal/cli"
)

func main() {
	cli.Execute()
}
