package main

import (
	"github.com/virtshim/virtshim/pkg/shim"
)

const (
	// name is the name of the virtbox shim implementation.
	name = "containerd-shim-virtbox-v1"
)

func main() {
	shim.Run(newVirtboxShim())
}
