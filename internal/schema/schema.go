package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Aliases     []string        `json:"aliases,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Global    bool   `json:"global,omitempty"`
}

// Build describes root, or the subcommand at commandPath, and everything
// below it.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, p := range strings.Fields(commandPath) {
		idx := slices.IndexFunc(cmd.Commands(), func(c *cobra.Command) bool {
			return c.Name() == p || slices.Contains(c.Aliases, p)
		})
		if idx < 0 {
			return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = cmd.Commands()[idx]
	}
	return serialize(cmd), nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Aliases: cmd.Aliases,
		Flags:   collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	visit := func(global bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden {
				return
			}
			_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
			items = append(items, FlagSchema{
				Name:      f.Name,
				Shorthand: f.Shorthand,
				Type:      f.Value.Type(),
				Usage:     f.Usage,
				Default:   f.DefValue,
				Required:  required,
				Global:    global,
			})
		}
	}
	cmd.LocalNonPersistentFlags().VisitAll(visit(false))
	if cmd.HasParent() {
		cmd.InheritedFlags().VisitAll(visit(true))
	} else {
		cmd.PersistentFlags().VisitAll(visit(true))
	}
	return items
}
