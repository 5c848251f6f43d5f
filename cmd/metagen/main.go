// Command metagen captures generation metadata from a prompt graph and prints
// the parameter block a save node would embed.
package main

import (
	"fmt"
	"os"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for a rejected prompt or settings file and 1 otherwise.
func exitCode(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation, schema.ErrCodeConfig:
		return 2
	}
	return 1
}
