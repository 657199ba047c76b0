package main

import "vault-riskbot/internal/cli"

func main() {
	cli.Execute()
}
