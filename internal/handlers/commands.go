package handlers

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"image-prompt-creator/internal/exclusion"
	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/session"
	"image-prompt-creator/internal/state"
	"image-prompt-creator/internal/store"
)

const awaitImport = "import"

var mentionID = regexp.MustCompile(`^@[A-Za-z0-9_.\-]+$`)

func (h *Handler) cmdGenerate(ctx context.Context, req request, args string) error {
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			return h.tg.SendText(req.chatID, "Usage: /generate [lines]")
		}
		h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.Rows = n })
	}
	return h.generate(ctx, req)
}

func (h *Handler) generate(ctx context.Context, req request) error {
	st := h.states.Get(req.chatID, req.userID)
	h.tg.SendTyping(req.chatID)

	res, err := h.svc.Generate(ctx, service.GenerateRequest{Request: st.Request(), UseLLM: st.Mode == state.ModeLLM})
	if err != nil {
		return h.fail(req, "generate", err)
	}

	text := h.svc.Decorate(decorateRequest(st, res.Text))
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) {
		st.LastMain = res.Text
		st.LastText = text
	})
	h.history.Record(req.userID, req.username, session.KindGenerate, text)

	if err := h.tg.SendText(req.chatID, text); err != nil {
		return err
	}
	if note := generateNote(res, st.Rows); note != "" {
		return h.tg.SendText(req.chatID, note)
	}
	return nil
}

func decorateRequest(st state.UIState, main string) service.DecorateRequest {
	return service.DecorateRequest{
		Main:         main,
		Media:        st.Media,
		TailEnabled:  st.TailEnabled,
		TailIndex:    st.TailIndex,
		ContentFlags: st.ContentFlags,
		Options:      st.Options,
	}
}

// generateNote explains a shortage or dedup removals, or returns "".
func generateNote(res generator.Result, requested int) string {
	var parts []string
	if res.Shortage {
		parts = append(parts, fmt.Sprintf("Only %d of %d lines matched.", len(res.Lines), requested))
	}
	if res.DedupRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate lines skipped.", res.DedupRemoved))
	}
	for _, c := range res.Conditions {
		if c.MatchedCandidates > 0 && c.MatchedCandidates < c.RequestedCount {
			parts = append(parts, fmt.Sprintf("%s / %s: %d of %d available.", c.AttributeName, c.Detail, c.MatchedCandidates, c.RequestedCount))
		}
	}
	return strings.Join(parts, "\n")
}

func (h *Handler) cmdAttrs(ctx context.Context, req request) error {
	catalog, err := h.svc.Catalog(ctx)
	if err != nil {
		return h.fail(req, "attrs", err)
	}
	st := h.states.Get(req.chatID, req.userID)
	return h.tg.SendText(req.chatID, attrsText(catalog, st.Selections))
}

func attrsText(catalog store.Catalog, picks []generator.Selection) string {
	picked := map[int64]int{}
	for _, p := range picks {
		picked[p.DetailID] = p.Count
	}

	var b strings.Builder
	for _, t := range catalog.Types {
		details := catalog.Selectable(t.ID)
		if len(details) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s", t.AttributeName)
		if t.Description != "" {
			fmt.Fprintf(&b, " (%s)", t.Description)
		}
		b.WriteString("\n")
		for _, d := range details {
			fmt.Fprintf(&b, "  #%d %s [%d]", d.ID, d.Description, d.ContentCount)
			if n, ok := picked[d.ID]; ok {
				fmt.Fprintf(&b, " <- x%d", n)
			}
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return "No attributes with prompts yet. Use /import to add prompts."
	}
	b.WriteString("\nPick with /pick <detail_id> <count>.")
	return b.String()
}

func (h *Handler) cmdPick(ctx context.Context, req request, args string) error {
	detailID, count, ok := parsePick(args)
	if !ok {
		return h.tg.SendText(req.chatID, "Usage: /pick <detail_id> <count> (count 0 removes the pick)")
	}
	catalog, err := h.svc.Catalog(ctx)
	if err != nil {
		return h.fail(req, "pick", err)
	}
	detail, found := catalog.Detail(detailID)
	if !found {
		return h.tg.SendText(req.chatID, fmt.Sprintf("Unknown detail #%d. See /attrs.", detailID))
	}

	st := h.states.Update(req.chatID, req.userID, func(st *state.UIState) {
		st.Pick(detail.AttributeTypeID, detailID, count)
	})
	return h.tg.SendText(req.chatID, picksText(catalog, st.Selections))
}

// parsePick reads "<detail_id> <count>" or "<detail_id>=<count>". A missing
// count means 1.
func parsePick(args string) (detailID int64, count int, ok bool) {
	fields := strings.Fields(strings.ReplaceAll(args, "=", " "))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	count = 1
	if len(fields) == 2 {
		count, err = strconv.Atoi(fields[1])
		if err != nil || count < 0 {
			return 0, 0, false
		}
	}
	return id, count, true
}

func picksText(catalog store.Catalog, picks []generator.Selection) string {
	if len(picks) == 0 {
		return "No attribute picks."
	}
	lines := []string{"Attribute picks:"}
	for _, p := range picks {
		name := fmt.Sprintf("#%d", p.DetailID)
		if d, ok := catalog.Detail(p.DetailID); ok {
			name = d.Description
			if t, ok := catalog.Type(d.AttributeTypeID); ok {
				name = t.AttributeName + " / " + name
			}
		}
		lines = append(lines, fmt.Sprintf("- %s x%d", name, p.Count))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdExclude(ctx context.Context, req request, args string) error {
	switch strings.ToLower(args) {
	case "":
		ov, err := h.svc.Overview(ctx)
		if err != nil {
			return h.fail(req, "exclude", err)
		}
		st := h.states.Get(req.chatID, req.userID)
		return h.tg.SendText(req.chatID, exclusionText(st, ov.Exclusions))
	case "off":
		h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.ExclusionEnabled = false })
		return h.tg.SendText(req.chatID, "Exclusion is off.")
	}

	phrase := exclusion.Phrase(exclusion.ParseWords(args))
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) {
		st.ExclusionPhrase = phrase
		st.ExclusionEnabled = phrase != ""
	})
	return h.tg.SendText(req.chatID, "Excluding: "+phrase)
}

func exclusionText(st state.UIState, remembered []string) string {
	var b strings.Builder
	if st.ExclusionEnabled {
		fmt.Fprintf(&b, "Exclusion is on: %s\n", st.ExclusionPhrase)
	} else {
		b.WriteString("Exclusion is off.\n")
	}
	var saved []string
	for _, r := range remembered {
		if r != "" {
			saved = append(saved, "- "+r)
		}
	}
	if len(saved) > 0 {
		b.WriteString("\nRecent phrases:\n")
		b.WriteString(strings.Join(saved, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\nUsage: /exclude word1, word2 | off")
	return b.String()
}

func (h *Handler) cmdOpt(req request, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		st := h.states.Get(req.chatID, req.userID)
		return h.tg.SendText(req.chatID, optionsText(st.Options))
	}

	flag := strings.TrimPrefix(strings.ToLower(fields[0]), "--")
	value := ""
	if len(fields) > 1 && !strings.EqualFold(fields[1], "off") {
		value = fields[1]
	}
	if _, ok := prompt.FlagValues[flag]; !ok {
		return h.tg.SendText(req.chatID, "Unknown flag. Use one of: "+strings.Join(prompt.FlagOrder, ", "))
	}
	if value != "" && !prompt.ValidFlagValue(flag, value) {
		return h.tg.SendText(req.chatID, fmt.Sprintf("--%s accepts: %s", flag, strings.Join(prompt.FlagValues[flag][1:], ", ")))
	}

	st := h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.Options.Set(flag, value) })
	return h.tg.SendText(req.chatID, optionsText(st.Options))
}

func optionsText(opts prompt.Options) string {
	suffix := strings.TrimSpace(opts.Suffix())
	if suffix == "" {
		suffix = "(none)"
	}
	return "Image flags: " + suffix
}

// workingText returns the prompt the LLM commands act on.
func (h *Handler) workingText(req request) string {
	return h.states.Get(req.chatID, req.userID).LastText
}

// finish stores an LLM pass result as the new working prompt and sends it.
func (h *Handler) finish(req request, kind, text string) error {
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.LastText = text })
	h.history.Record(req.userID, req.username, kind, text)
	return h.tg.SendText(req.chatID, text)
}

func (h *Handler) cmdArrange(ctx context.Context, req request, args string) error {
	st := h.states.Get(req.chatID, req.userID)
	preset, guidance := st.ArrangePreset, ""
	if args != "" {
		first, rest, _ := strings.Cut(args, " ")
		if _, ok := h.findArrange(first); ok {
			preset, guidance = first, strings.TrimSpace(rest)
		} else {
			guidance = args
		}
	}

	h.tg.SendTyping(req.chatID)
	out, err := h.svc.Arrange(ctx, service.ArrangeRequest{
		Text:         st.LastText,
		Preset:       preset,
		Strength:     st.ArrangeStrength,
		Guidance:     guidance,
		LengthAdjust: st.ArrangeLength,
		Limit:        st.LengthLimit,
		Language:     st.OutputLanguage,
	})
	if err != nil {
		return h.fail(req, "arrange", err)
	}
	return h.finish(req, session.KindArrange, out)
}

func (h *Handler) findArrange(key string) (presets.Arrange, bool) {
	for _, p := range h.svc.Presets().Arrange {
		if strings.EqualFold(p.ID, key) || strings.EqualFold(p.Label, key) {
			return p, true
		}
	}
	return presets.Arrange{}, false
}

func (h *Handler) cmdLength(ctx context.Context, req request, args string) error {
	st := h.states.Get(req.chatID, req.userID)
	hint := args
	if hint == "" {
		hint = st.ArrangeLength
	}
	if !validLengthHint(hint) {
		return h.tg.SendText(req.chatID, "Usage: /length <"+strings.Join(llmtask.LengthAdjustments, "|")+">")
	}

	h.tg.SendTyping(req.chatID)
	out, err := h.svc.LengthAdjust(ctx, service.LengthRequest{
		Text:     st.LastText,
		Hint:     hint,
		Limit:    st.LengthLimit,
		Language: st.OutputLanguage,
	})
	if err != nil {
		return h.fail(req, "length", err)
	}
	return h.finish(req, session.KindLength, out)
}

func validLengthHint(hint string) bool {
	for _, v := range llmtask.LengthAdjustments {
		if v == hint {
			return true
		}
	}
	return llmtask.LengthMultiplier(hint) != 1 || hint == "同程度"
}

func (h *Handler) cmdMovie(req request) error {
	out, err := h.svc.MovieJSON(h.workingText(req))
	if err != nil {
		return h.fail(req, "movie", err)
	}
	return h.finish(req, session.KindMovieJSON, out)
}

func (h *Handler) cmdWorld(ctx context.Context, req request, chaos bool) error {
	st := h.states.Get(req.chatID, req.userID)
	mreq := service.MovieRequest{
		Text:          st.LastText,
		UseVideoStyle: st.StoryboardStyle,
		Limit:         st.MovieLimit,
		Language:      st.OutputLanguage,
	}

	h.tg.SendTyping(req.chatID)
	if chaos {
		out, err := h.svc.ChaosMix(ctx, mreq)
		if err != nil {
			return h.fail(req, "chaos", err)
		}
		return h.finish(req, session.KindChaos, out)
	}
	out, err := h.svc.World(ctx, mreq)
	if err != nil {
		return h.fail(req, "world", err)
	}
	return h.finish(req, session.KindWorld, out)
}

func (h *Handler) cmdShot(ctx context.Context, req request) error {
	st := h.states.Get(req.chatID, req.userID)
	h.tg.SendTyping(req.chatID)
	out, err := h.svc.Shot(ctx, service.MovieRequest{
		Text:          st.LastText,
		UseVideoStyle: st.StoryboardStyle,
		Limit:         st.MovieLimit,
		Language:      st.OutputLanguage,
	})
	if err != nil {
		return h.fail(req, "shot", err)
	}
	return h.finish(req, session.KindShot, out)
}

func (h *Handler) cmdStoryboard(ctx context.Context, req request, args string) error {
	st := h.states.Get(req.chatID, req.userID)
	auto := st.StoryboardAuto
	offline := false
	for _, f := range strings.Fields(strings.ToLower(args)) {
		switch f {
		case "auto":
			auto = true
		case "fixed":
			auto = false
		case "offline":
			offline = true
		}
	}

	h.tg.SendTyping(req.chatID)
	res, err := h.svc.Storyboard(ctx, service.StoryboardRequest{
		Text:         st.LastText,
		Template:     st.StoryboardTemplate,
		Duration:     st.StoryboardDuration,
		Cuts:         st.StoryboardCuts,
		Continuity:   st.StoryboardContinuity,
		ReflectStyle: st.StoryboardStyle,
		Auto:         auto,
		Limit:        st.MovieLimit,
		Language:     st.OutputLanguage,
		Offline:      offline,
	})
	if err != nil {
		return h.fail(req, "storyboard", err)
	}

	h.history.Record(req.userID, req.username, session.KindStoryboard, res.JSON)
	if err := h.tg.SendText(req.chatID, res.JSON); err != nil {
		return err
	}
	var notes []string
	if res.Offline {
		notes = append(notes, "Built without the LLM: sentences were spread over the template cuts.")
	}
	if len(res.MissingCharacters) > 0 {
		notes = append(notes, "Unregistered characters: @"+strings.Join(res.MissingCharacters, ", @")+". Add them with /register.")
	}
	if n := len([]rune(res.JSON)); st.MovieLimit > 0 && n > st.MovieLimit {
		notes = append(notes, fmt.Sprintf("The JSON is %d characters, above the %d limit.", n, st.MovieLimit))
	}
	if len(notes) == 0 {
		return nil
	}
	return h.tg.SendText(req.chatID, strings.Join(notes, "\n"))
}

func (h *Handler) cmdCharacters(req request) error {
	chars := h.svc.Characters()
	if len(chars) == 0 {
		return h.tg.SendText(req.chatID, "No characters registered. Use /register <id> <name> [pronoun].")
	}
	lines := []string{"Characters:"}
	for _, c := range chars {
		line := fmt.Sprintf("- @%s %s", strings.TrimPrefix(c.ID, "@"), c.Name)
		if c.Pronoun3rd != "" {
			line += " (" + c.Pronoun3rd + ")"
		}
		lines = append(lines, line)
	}
	return h.tg.SendText(req.chatID, strings.Join(lines, "\n"))
}

func (h *Handler) cmdRegister(req request, args string) error {
	c, ok := parseRegister(args)
	if !ok {
		return h.tg.SendText(req.chatID, "Usage: /register <id> <name> [pronoun]")
	}
	if _, err := h.svc.RegisterCharacters([]presets.Character{c}); err != nil {
		return h.fail(req, "register", err)
	}
	return h.cmdCharacters(req)
}

// parseRegister reads "<id> <name> [pronoun]". The id may carry a leading @.
func parseRegister(args string) (presets.Character, bool) {
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return presets.Character{}, false
	}
	id := strings.TrimPrefix(fields[0], "@")
	if id == "" || !mentionID.MatchString("@"+id) {
		return presets.Character{}, false
	}
	c := presets.Character{ID: id, Name: fields[1]}
	if len(fields) == 3 {
		c.Pronoun3rd = fields[2]
	}
	return c, true
}

func (h *Handler) cmdImport(ctx context.Context, req request, args string) error {
	if args != "" {
		return h.importContent(ctx, req, args)
	}
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.AwaitingInput = awaitImport })
	return h.tg.SendText(req.chatID, "Send the CSV as text or as a .csv file. Each line: \"content\",\"detail_id1,detail_id2\". /cancel to stop.")
}

func (h *Handler) importContent(ctx context.Context, req request, content string) error {
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.AwaitingInput = "" })

	res, err := h.svc.ImportCSV(ctx, content)
	if err != nil {
		return h.fail(req, "import", err)
	}
	return h.tg.SendText(req.chatID, importText(res))
}

func importText(res service.ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Imported %d rows.", res.Inserted)
	if len(res.Failed) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, " %d rows failed:\n", len(res.Failed))
	for i, f := range res.Failed {
		if i == 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(res.Failed)-i)
			break
		}
		fmt.Fprintf(&b, "line %d: %s\n", f.Line, f.Reason)
	}
	if res.FailedPath != "" {
		fmt.Fprintf(&b, "Failed rows saved to %s", res.FailedPath)
	}
	return strings.TrimSpace(b.String())
}

func (h *Handler) cmdExport(ctx context.Context, req request) error {
	var buf bytes.Buffer
	n, err := h.svc.ExportCSV(ctx, &buf)
	if err != nil {
		return h.fail(req, "export", err)
	}
	name := "prompts_export_" + time.Now().Format("20060102_150405") + ".csv"
	return h.tg.SendDocument(req.chatID, name, buf.Bytes(), fmt.Sprintf("%d prompts", n))
}

func (h *Handler) cmdHistory(req request) error {
	entries := h.history.Snapshot(req.userID, req.username)
	if len(entries) == 0 {
		return h.tg.SendText(req.chatID, "No prompts yet.")
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "Recent prompts:")
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s %s", i+1, e.Kind, e.CreatedAt.Format("15:04"), truncateLine(e.Text, 80)))
	}
	return h.tg.SendText(req.chatID, strings.Join(lines, "\n"))
}

func (h *Handler) cmdLast(req request) error {
	e, ok := h.history.Last(req.userID, "")
	if !ok {
		return h.tg.SendText(req.chatID, "No prompts yet.")
	}
	return h.tg.SendText(req.chatID, e.Text)
}

func truncateLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
