package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/storyboard"
)

type presetsDump struct {
	Tails      map[string][]presets.Tail `yaml:"tails"`
	Arrange    []presets.Arrange         `yaml:"arrange"`
	Characters []presets.Character       `yaml:"characters"`
	Templates  []templateDump            `yaml:"storyboard_templates"`
}

type templateDump struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description,omitempty"`
}

func newPresetsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Print the loaded tail, arrange, character and template presets as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := c.app.Service.Presets()
			dump := presetsDump{
				Tails:      p.Tails,
				Arrange:    p.Arrange,
				Characters: c.app.Service.Characters(),
			}
			for _, t := range storyboard.Templates {
				dump.Templates = append(dump.Templates, templateDump{ID: t.ID, Label: t.Label, Description: t.Description})
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(dump); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
