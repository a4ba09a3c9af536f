package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cbegin/clipseq-go/internal/voice"
)

var nameStyle = lipgloss.NewStyle().Bold(true).Width(18)

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List the built-in instruments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range voice.DefaultRegistry().Definitions() {
			fmt.Fprintln(cmd.OutOrStdout(), nameStyle.Render(d.ID)+
				dimStyle.Render(fmt.Sprintf("%-6s poly %-2d ", d.Type, d.Polyphony))+d.Name)
			var params []string
			for _, p := range d.Params {
				params = append(params, fmt.Sprintf("%s %g..%g (%g)", p.Name, p.Min, p.Max, p.Default))
			}
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("    "+strings.Join(params, ", ")))
		}
		return nil
	},
}
