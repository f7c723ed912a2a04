package main

import "github.com/chaos-io/sam2seg/cmd"

func main() {
	cmd.Execute()
}
