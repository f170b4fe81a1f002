package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/storyboard"
)

func newStoryboardCmd(c *cli) *cobra.Command {
	var req service.StoryboardRequest
	cmd := &cobra.Command{
		Use:   "storyboard <file|->",
		Short: "Split a prompt into timed cuts and print the video prompt JSON",
		Long: "Split a prompt into timed cuts and print the video prompt JSON.\n" +
			"Without the LLM the sentences are laid over the template cuts.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			req.Text = text
			res, err := c.app.Service.Storyboard(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.JSON)
			if res.Offline {
				fmt.Fprintln(cmd.ErrOrStderr(), "built offline from the template")
			}
			for _, id := range res.MissingCharacters {
				fmt.Fprintf(cmd.ErrOrStderr(), "unregistered character @%s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Template, "template", storyboard.TemplateNone, "cut template id")
	cmd.Flags().IntVar(&req.Duration, "duration", storyboard.DefaultDuration, "total seconds (10, 15, 20, 25 or 30)")
	cmd.Flags().IntVar(&req.Cuts, "cuts", 3, "number of cuts when the template does not fix it")
	cmd.Flags().BoolVar(&req.Auto, "auto", false, "let the LLM choose the cut count and timing")
	cmd.Flags().BoolVar(&req.Continuity, "continuity", false, "ask for continuity between cuts")
	cmd.Flags().BoolVar(&req.ReflectStyle, "reflect-style", true, "pass video_style and content_flags to the LLM")
	cmd.Flags().BoolVar(&req.Offline, "offline", false, "never call the LLM")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "character limit for the cut descriptions (0 for none)")
	cmd.Flags().StringVar(&req.Language, "language", "en", "output language")
	return cmd
}
