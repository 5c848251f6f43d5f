package main

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "metagen",
		Short: "Capture generation metadata from ComfyUI prompt graphs",
		Long: "metagen traces a prompt graph from its save node, captures sampler,\n" +
			"prompt, model and LoRA metadata through the capture rules and renders\n" +
			"the parameter block written into saved images.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	f := root.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "settings file (.json or .yaml); defaults to ~/.metagen/settings.json")
	f.StringVar(&g.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(newRenderCmd(&g))
	root.AddCommand(newHashCmd(&g))
	root.AddCommand(newResolveCmd(&g))
	root.AddCommand(newVersionCmd())
	return root
}
