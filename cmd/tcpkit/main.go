package main

import (
	"log"

	"github.com/example/tcpkit/internal/cli"
)

func main() {
	root := cli.NewRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
