package main

import "github.com/facesentry/facesentry/cmd"

func main() {
	cmd.Execute()
}
