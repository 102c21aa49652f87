package main

import "github.com/ValentinKolb/artic/cmd"

func main() {
	cmd.Execute()
}
