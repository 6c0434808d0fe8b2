package main

import (
	"os"

	"github.com/S-Choi-1997/easyCICD-sub000/cmd/easycicd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
