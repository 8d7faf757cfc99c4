package main

import "github.com/keygate-dev/keygate/cmd/keygate/cmd"

func main() {
	cmd.Execute()
}
