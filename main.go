package main

import "github.com/pettai/capirca/cmd"

func main() {
	cmd.Execute()
}
