package llmtask

import (
	"context"
	"fmt"

	"image-prompt-creator/internal/prompt"
)

type LengthRequest struct {
	Text     string
	Hint     string
	Limit    int
	Language string
}

// LengthAdjust rewrites the text to the requested length. Image flags of
// the input survive; flags the model invents are dropped.
func (r *Runner) LengthAdjust(ctx context.Context, req LengthRequest) (string, error) {
	label, sentence := languageDirectives(req.Language)

	limit := ""
	if req.Limit > 0 {
		limit = fmt.Sprintf("\nIMPORTANT: Strictly limit the output to under %d characters.", req.Limit)
	}

	system := "You are a text length adjustment specialist. Keep style but meet length hint." +
		limit +
		"\nRespond strictly in " + label + "."
	user := fmt.Sprintf("Length adjustment request (target: %s)\n"+
		"Instruction: Adjust length ONLY. Preserve meaning, style, and technical parameters.\n"+
		"%s\n"+
		"Text: %s", req.Hint, sentence, req.Text)

	out, err := r.call(ctx, "length adjustment", system, user, r.temperature, "shorten the text and retry")
	if err != nil {
		return "", err
	}
	return prompt.InheritOptions(req.Text, out), nil
}
