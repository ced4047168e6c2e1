package main

import (
	"vault-harvester/internal/cli"
)

func main() {
	cli.Execute()
}
