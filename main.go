package main

import "github.com/vlox-lang/vlox/cmd"

func main() { cmd.Main() }
