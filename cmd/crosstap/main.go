package main

import "github.com/crosstap/crosstap/internal/cli"

func main() {
	cli.Execute()
}
