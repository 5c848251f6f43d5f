package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newResolveCmd(g *globalFlags) *cobra.Command {
	var listLoras bool

	cmd := &cobra.Command{
		Use:   "resolve KIND TOKEN...",
		Short: "Resolve artifact tokens to display names and files",
		Long: "Resolves each TOKEN the way capture rules do: sanitized, extension-expanded,\n" +
			"and for LoRAs looked up in the stem index as a last resort.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listLoras {
				return runListLoras(cmd, g)
			}
			if len(args) < 2 {
				return fmt.Errorf("resolve needs a KIND and at least one TOKEN")
			}
			return runResolve(cmd, g, args[0], args[1:])
		},
	}
	cmd.Flags().BoolVar(&listLoras, "list-loras", false, "print the size of the LoRA stem index")
	return cmd
}

func runResolve(cmd *cobra.Command, g *globalFlags, kindName string, tokens []string) error {
	kind, err := parseKind(kindName)
	if err != nil {
		return err
	}
	a, err := newApp(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, token := range tokens {
		res := a.artifacts.Resolve(cmd.Context(), kind, token)
		path := res.FullPath
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(tw, "%q\t%s\t%s\n", token, a.artifacts.DisplayName(cmd.Context(), kind, token), path)
	}
	return tw.Flush()
}

func runListLoras(cmd *cobra.Command, g *globalFlags) error {
	a, err := newApp(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d LoRA files indexed\n", a.loras.Len())
	return err
}
