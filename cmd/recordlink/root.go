package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "recordlink",
		Short:        "Inspect and seed the identity and mapping stores",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./config.toml)")

	cmd.AddCommand(
		newResolveCmd(&configPath),
		newLookupCmd(&configPath),
		newAlignCmd(&configPath),
		newMappingCmd(&configPath),
		newLoadCmd(&configPath),
	)
	return cmd
}

// withApp runs fn against a started app and always closes it
func withApp(cmd *cobra.Command, configPath string, fn func(a *app, cmd *cobra.Command) error) (err error) {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(cmd.Context()); err == nil {
			err = cerr
		}
	}()

	ctx, err := a.start(cmd.Context())
	if err != nil {
		return err
	}
	cmd.SetContext(ctx)
	return fn(a, cmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
