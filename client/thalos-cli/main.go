package main

import "Thalos_Prime/client/thalos-cli/cmd"

func main() {
	cmd.Execute()
}
