package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"image-prompt-creator/internal/exclusion"
	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/store"
)

type generateFlags struct {
	rows    int
	picks   []string
	exclude string
	llm     bool
	chaos   int
	noDedup bool
	media   string
	tail    int
	ar      string
	opts    []string
	lang    string
}

func newGenerateCmd(c *cli) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a prompt from the database, or from the LLM with --llm",
		Example: `promptctl generate --rows 8 --pick 12=2 --exclude "cat, dog" --ar 16:9
promptctl generate --llm --chaos 7 --media movie --tail 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := c.app.Service

			var picks []generator.Selection
			if len(f.picks) > 0 {
				catalog, err := svc.Catalog(ctx)
				if err != nil {
					return err
				}
				if picks, err = parsePicks(f.picks, catalog); err != nil {
					return err
				}
			}

			options := prompt.NewOptions()
			if f.ar != "" {
				f.opts = append(f.opts, "ar="+f.ar)
			}
			for _, o := range f.opts {
				flag, value, _ := strings.Cut(o, "=")
				flag = strings.TrimPrefix(flag, "--")
				if !prompt.ValidFlagValue(flag, value) || value == "" {
					return fmt.Errorf("invalid --opt %q", o)
				}
				options.Set(flag, value)
			}

			words := exclusion.ParseWords(f.exclude)
			res, err := svc.Generate(ctx, service.GenerateRequest{
				Request: generator.Request{
					TotalLines:       f.rows,
					Selections:       picks,
					ExclusionEnabled: len(words) > 0,
					ExclusionWords:   words,
					Dedup:            !f.noDedup,
					Chaos:            f.chaos,
					Language:         f.lang,
				},
				UseLLM: f.llm,
			})
			if err != nil {
				return err
			}

			out := svc.Decorate(service.DecorateRequest{
				Main:        res.Text,
				Media:       f.media,
				TailEnabled: f.tail > 0,
				TailIndex:   f.tail,
				Options:     options,
			})
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if res.Shortage {
				fmt.Fprintf(cmd.ErrOrStderr(), "only %d of %d lines matched\n", len(res.Lines), f.rows)
			}
			if res.DedupRemoved > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d duplicate lines skipped\n", res.DedupRemoved)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&f.rows, "rows", 10, "number of prompt lines")
	cmd.Flags().StringSliceVar(&f.picks, "pick", nil, "attribute pick as detail_id=count (repeatable)")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "comma separated words to exclude")
	cmd.Flags().BoolVar(&f.llm, "llm", false, "write the lines with the LLM")
	cmd.Flags().IntVar(&f.chaos, "chaos", 5, "LLM chaos level 1-10")
	cmd.Flags().BoolVar(&f.noDedup, "no-dedup", false, "keep duplicate lines")
	cmd.Flags().StringVar(&f.media, "media", presets.MediaImage, "image or movie")
	cmd.Flags().IntVar(&f.tail, "tail", 0, "tail preset index (0 for none)")
	cmd.Flags().StringVar(&f.ar, "ar", "", "aspect ratio flag, e.g. 16:9")
	cmd.Flags().StringSliceVar(&f.opts, "opt", nil, "image flag as name=value, e.g. s=100 (repeatable)")
	cmd.Flags().StringVar(&f.lang, "language", "en", "output language for --llm")
	return cmd
}

// parsePicks turns "id=count" values into selections, looking up each
// detail's attribute type.
func parsePicks(values []string, catalog store.Catalog) ([]generator.Selection, error) {
	out := make([]generator.Selection, 0, len(values))
	for _, v := range values {
		idText, countText, found := strings.Cut(v, "=")
		id, err := strconv.ParseInt(strings.TrimSpace(idText), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --pick %q: detail id must be numeric", v)
		}
		count := 1
		if found {
			if count, err = strconv.Atoi(strings.TrimSpace(countText)); err != nil || count < 1 {
				return nil, fmt.Errorf("invalid --pick %q: count must be a positive number", v)
			}
		}
		d, ok := catalog.Detail(id)
		if !ok {
			return nil, errors.New("unknown attribute detail " + strconv.FormatInt(id, 10))
		}
		out = append(out, generator.Selection{AttributeTypeID: d.AttributeTypeID, DetailID: id, Count: count})
	}
	return out, nil
}
