package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <table>",
	Short: "Print the introspected schema and configuration of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		tbl, err := rt.tables.Table(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		bold := color.New(color.Bold)
		bold.Printf("%s", tbl.Name())
		fmt.Printf(" (%s, primary key %s)\n", tbl.Schema.Dialect, color.CyanString(tbl.PrimaryKey()))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN\tTYPE\tNULL\tLABEL\tFLAGS")
		for _, col := range tbl.Schema.Columns {
			cm := tbl.ColumnMeta(col.Name)
			var flags []string
			if col.AutoIncrement {
				flags = append(flags, "auto")
			}
			if col.HasDefault {
				flags = append(flags, "default")
			}
			if cm.Hidden {
				flags = append(flags, "hidden")
			}
			if cm.IsUpload() {
				flags = append(flags, "upload")
			}
			if len(col.EnumValues) > 0 {
				flags = append(flags, "enum("+strings.Join(col.EnumValues, "|")+")")
			}
			null := color.RedString("no")
			if col.Nullable {
				null = color.GreenString("yes")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", col.Name, col.Type, null, tbl.Label(col.Name), strings.Join(flags, ","))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		md := tbl.Meta
		if sl, ok := md.SlugConfig(); ok {
			fmt.Printf("%s %s -> %s\n", color.YellowString("slug:"), sl.Source, sl.Target)
		}
		if col, ok := md.SoftDeleteColumn(); ok {
			fmt.Printf("%s %s\n", color.YellowString("soft deletes:"), col)
		}
		for _, rel := range md.ManyToMany {
			fmt.Printf("%s %s via %s(%s, %s)\n", color.YellowString("many-to-many:"), rel.Field, rel.PivotTable, rel.LocalKey, rel.ForeignKey)
		}
		if md.RowLevelSecurity.Enabled {
			fmt.Printf("%s owner column %s\n", color.YellowString("row-level security:"), md.OwnerField())
		}
		return nil
	},
}
