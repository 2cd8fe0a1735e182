// mapgen generates Go entity types from a mapping schema.
//
// Usage:
//
//	mapgen --schema library.odm [--out models_gen.go] [--pkg models] [--acronyms=false]
//	mapgen version
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/CaliLuke/go-odm/mapgen"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type options struct {
	schema        string
	out           string
	pkg           string
	modulePath    string
	acronyms      bool
	schemaVersion string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "mapgen --schema FILE [flags]",
		Short:         "Generate Go entity types from a mapping schema",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.schema, "schema", "", "Path to the mapping schema (required)")
	flags.StringVar(&opts.out, "out", "", "Output Go file (default: stdout)")
	flags.StringVar(&opts.pkg, "pkg", "models", "Package name for generated code")
	flags.StringVar(&opts.modulePath, "module", mapgen.DefaultConfig().ModulePath, "Import path of the gotype package")
	flags.BoolVar(&opts.acronyms, "acronyms", true, "Apply Go naming conventions for acronyms (ID, URL, etc.)")
	flags.StringVar(&opts.schemaVersion, "schema-version", "", "Schema version string (included in generated header)")
	_ = cmd.MarkFlagRequired("schema")

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mapgen version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mapgen %s\n", version)
		},
	}
}

func runGenerate(stdout io.Writer, opts options) error {
	schema, err := mapgen.ParseSchemaFile(opts.schema)
	if err != nil {
		return err
	}

	cfg := mapgen.RenderConfig{
		PackageName:   opts.pkg,
		ModulePath:    opts.modulePath,
		UseAcronyms:   opts.acronyms,
		SchemaVersion: opts.schemaVersion,
	}
	if opts.out == "" {
		return mapgen.Render(stdout, schema, cfg)
	}

	w, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := mapgen.Render(w, schema, cfg); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
