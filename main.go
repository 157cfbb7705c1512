package main

import "github.com/frahmantamala/paylink/cmd"

func main() {
	cmd.Execute()
}
