package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"odmcore/internal/entitymodel"
	"odmcore/internal/entitymodel/sqlbundle"
)

func (a *app) schemaCmd() *cobra.Command {
	var (
		format   string
		baseline string
		write    bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the table registry as YAML or DDL, or diff it against a baseline",
		Long: `Without --baseline, prints the registry in the chosen format. With
--baseline, compares the registry to the stored document and fails on
breaking changes (removed tables or fields, retyped fields, changed keys);
--write refreshes the baseline instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseline != "" {
				return diffBaseline(cmd, baseline, write)
			}
			switch format {
			case "yaml":
				body, err := entitymodel.YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			case string(sqlbundle.DialectSQLite), string(sqlbundle.DialectPostgres):
				_, err := fmt.Fprint(cmd.OutOrStdout(), sqlbundle.Generate(sqlbundle.Dialect(format)))
				return err
			default:
				return fmt.Errorf("unknown schema format %q (want yaml, sqlite or postgres)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "yaml, sqlite or postgres")
	cmd.Flags().StringVar(&baseline, "baseline", "", "Registry document to diff against")
	cmd.Flags().BoolVar(&write, "write", false, "Rewrite the baseline instead of diffing")
	return cmd
}

func diffBaseline(cmd *cobra.Command, path string, write bool) error {
	current := entitymodel.Describe()
	if write {
		if err := entitymodel.WriteDocument(path, current); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote baseline %s to %s\n", current.Version, path)
		return nil
	}
	old, err := entitymodel.LoadDocument(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("baseline missing (%s); run with --write", path)
		}
		return err
	}
	issues := entitymodel.Diff(old, current)
	for _, issue := range issues {
		fmt.Fprintln(cmd.OutOrStdout(), issue)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%d breaking schema changes", len(issues))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "registry matches baseline")
	return nil
}
