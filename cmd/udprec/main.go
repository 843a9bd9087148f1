package main

import "github.com/rflandau/udprec/cmd/udprec/cmd"

func main() {
	cmd.Execute()
}
