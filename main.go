package main

import (
	"github.com/luma/pubsub/cmd"
)

func main() {
	cmd.Execute()
}
