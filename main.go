package main

import "github.com/vaclisinc/VTR-plugin-sub000/cmd"

func main() {
	cmd.Execute()
}
