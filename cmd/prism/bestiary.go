package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/prism/internal/game/bestiary"
)

var bestiaryDir string

var bestiaryCmd = &cobra.Command{
	Use:   "bestiary",
	Short: "Validate and list monster presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := bestiary.Load(bestiaryDir)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tHP\tAC\tSPEED\tSIZE\tINIT")
		for _, m := range b.All() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%+d\n", m.ID, m.Name, m.HP, m.AC, m.Speed, m.Size, m.DexMod())
		}
		return w.Flush()
	},
}

func init() {
	bestiaryCmd.Flags().StringVar(&bestiaryDir, "dir", "content/bestiary", "directory of monster YAML presets")
}
