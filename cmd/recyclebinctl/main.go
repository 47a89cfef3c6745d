package main

import "asset-recyclebin/internal/cli"

func main() {
	cli.Execute()
}
