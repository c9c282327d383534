package main

import "github.com/Friendly-Banana/wobot/cmd"

func main() {
	cmd.Execute()
}
