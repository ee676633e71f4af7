package main

import "github.com/sunbk201/netrule/cmd"

func main() {
	cmd.Execute()
}
