package main

import "github.com/XiDee233/AndroidVideoTransToPC/cmd"

func main() {
	cmd.Execute()
}
