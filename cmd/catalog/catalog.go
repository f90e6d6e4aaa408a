package catalog

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
)

// Command creates the catalog command. Without arguments it lists every
// class; with arguments it resolves each name to its class.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [name...]",
		Short: "List species classes or resolve names",
		Long:  "Names may be species codes, Scientific_Common labels or scientific names.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 0 {
				listAll(w, cat)
				return w.Flush()
			}
			unresolved := resolve(w, cat, args)
			if err := w.Flush(); err != nil {
				return err
			}
			if unresolved > 0 {
				return errors.Newf("%d of %d names did not resolve", unresolved, len(args)).
					Component("catalog").
					Category(errors.CategoryNotFound).
					Build()
			}
			return nil
		},
	}

	return cmd
}

func listAll(w *tabwriter.Writer, cat *catalog.Catalog) {
	fmt.Fprintln(w, "INDEX\tCODE\tSCIENTIFIC\tCOMMON")
	for i, sp := range cat.All() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, sp.Code, sp.ScientificName, sp.CommonName)
	}
}

func resolve(w *tabwriter.Writer, cat *catalog.Catalog, names []string) int {
	unresolved := 0
	fmt.Fprintln(w, "NAME\tINDEX\tCODE\tLABEL")
	for _, name := range names {
		code, ok := cat.ResolveName(name)
		if !ok {
			unresolved++
			fmt.Fprintf(w, "%s\t-\t-\t-\n", name)
			continue
		}
		idx, _ := cat.Index(code)
		sp, _ := cat.Species(code)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, idx, code, sp.Label())
	}
	return unresolved
}
