package main

import "github.com/imagetrove/dcmdir/cmd"

func main() {
	cmd.Execute()
}
