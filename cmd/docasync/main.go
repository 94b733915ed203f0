package main

import "github.com/kartikbazzad/bunbase/docasync/internal/cli"

func main() {
	cli.Execute()
}
