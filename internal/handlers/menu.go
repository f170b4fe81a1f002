package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/state"
	"image-prompt-creator/internal/storyboard"
)

const menuCallbackPrefix = "ipc"

var (
	limitChoices    = []string{"0", "200", "400", "800", "1500"}
	languageChoices = []string{"en", "ja"}
	spokenChoices   = []string{"", "ja", "en"}
)

func (h *Handler) openMenu(ctx context.Context, req request) error {
	st := h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.Menu = state.MenuMain })
	msgID, err := h.tg.SendTextWithKeyboard(req.chatID, h.menuText(st), h.menuKeyboard(req.userID, st))
	if err != nil {
		return err
	}
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.MessageID = msgID })
	return nil
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	ownerID, action, args, ok := parseCallback(q.Data)
	if !ok {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.", true)
		return nil
	}

	req := request{chatID: q.Message.Chat.ID, userID: ownerID, username: q.From.UserName}
	msgID := q.Message.MessageID
	tails := len(h.svc.Presets().Tails[h.states.Get(req.chatID, req.userID).Media])
	arrange := h.svc.Presets().Arrange

	if action == "reset" {
		h.states.Reset(req.chatID, req.userID)
	}
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) {
		st.MessageID = msgID
		applyAction(st, action, args, tails, arrange)
	})

	switch action {
	case "generate":
		_ = h.tg.AnswerCallback(q.ID, "Generating…", false)
		if err := h.generate(ctx, req); err != nil {
			return err
		}
	case "sbrun":
		_ = h.tg.AnswerCallback(q.ID, "Building storyboard…", false)
		if err := h.cmdStoryboard(ctx, req, ""); err != nil {
			return err
		}
	case "close":
		_ = h.tg.AnswerCallback(q.ID, "Closed", false)
		return h.tg.EditTextWithKeyboard(req.chatID, msgID, "Menu closed. /menu to reopen.", tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	default:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
	}

	return h.renderMenu(req, msgID)
}

// parseCallback splits "ipc:<owner>:<action>[:args...]".
func parseCallback(data string) (ownerID int64, action string, args []string, ok bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 3 || parts[0] != menuCallbackPrefix {
		return 0, "", nil, false
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", nil, false
	}
	return ownerID, parts[2], parts[3:], true
}

// applyAction mutates st for one menu button. tails is the number of tail
// presets for the current media.
func applyAction(st *state.UIState, action string, args []string, tails int, arrange []presets.Arrange) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	switch action {
	case "menu":
		st.Menu = arg
	case "mode":
		if st.Mode == state.ModeLLM {
			st.Mode = state.ModeDB
		} else {
			st.Mode = state.ModeLLM
		}
	case "media":
		if st.Media == presets.MediaMovie {
			st.SetMedia(presets.MediaImage)
		} else {
			st.SetMedia(presets.MediaMovie)
		}
	case "rows":
		st.Rows += step(arg)
	case "chaos":
		st.ChaosLevel += step(arg)
	case "dedup":
		st.Dedup = !st.Dedup
	case "excl":
		st.ExclusionEnabled = !st.ExclusionEnabled && st.ExclusionPhrase != ""
	case "lang":
		st.OutputLanguage = cycle(languageChoices, st.OutputLanguage)

	case "opt":
		if values, ok := prompt.FlagValues[arg]; ok {
			st.Options.Set(arg, cycle(values, st.Options.Values[arg]))
		}

	case "tail":
		if idx, err := strconv.Atoi(arg); err == nil && idx >= 0 && idx < tails {
			st.TailIndex = idx
			st.TailEnabled = idx > 0
		}
		st.Menu = state.MenuMain

	case "flags":
		st.ContentFlags.Enabled = !st.ContentFlags.Enabled
	case "flag":
		st.ContentFlags.Toggle(arg)
	case "persons":
		st.ContentFlags.PersonCount = cycle(append([]string{""}, prompt.PersonCounts...), st.ContentFlags.PersonCount)
	case "plannedcuts":
		st.ContentFlags.PlannedCuts = cycle(append([]string{""}, prompt.PlannedCuts...), st.ContentFlags.PlannedCuts)
	case "spoken":
		st.ContentFlags.SpokenLanguage = cycle(spokenChoices, st.ContentFlags.SpokenLanguage)

	case "arr":
		if idx, err := strconv.Atoi(arg); err == nil && idx >= 0 && idx < len(arrange) {
			st.ArrangePreset = arrange[idx].ID
		}
	case "strength":
		st.ArrangeStrength = (st.ArrangeStrength + 1) % 4
	case "alen":
		st.ArrangeLength = cycle(llmtask.LengthAdjustments, st.ArrangeLength)
	case "alimit":
		st.LengthLimit = cycleInt(limitChoices, st.LengthLimit)

	case "tpl":
		ids := make([]string, len(storyboard.Templates))
		for i, t := range storyboard.Templates {
			ids[i] = t.ID
		}
		st.StoryboardTemplate = cycle(ids, st.StoryboardTemplate)
	case "dur":
		durations := make([]string, len(storyboard.Durations))
		for i, d := range storyboard.Durations {
			durations[i] = strconv.Itoa(d)
		}
		st.StoryboardDuration = cycleInt(durations, st.StoryboardDuration)
	case "cuts":
		st.StoryboardCuts = st.StoryboardCuts%10 + 1
	case "cont":
		st.StoryboardContinuity = !st.StoryboardContinuity
	case "style":
		st.StoryboardStyle = !st.StoryboardStyle
	case "auto":
		st.StoryboardAuto = !st.StoryboardAuto
	case "mlimit":
		st.MovieLimit = cycleInt(limitChoices, st.MovieLimit)

	}
}

func step(arg string) int {
	switch arg {
	case "+":
		return 1
	case "-":
		return -1
	case "++":
		return 10
	case "--":
		return -10
	}
	return 0
}

// cycle returns the value after current, wrapping around. An unknown current
// yields the first value.
func cycle(values []string, current string) string {
	if len(values) == 0 {
		return current
	}
	for i, v := range values {
		if v == current {
			return values[(i+1)%len(values)]
		}
	}
	return values[0]
}

func cycleInt(values []string, current int) int {
	n, _ := strconv.Atoi(cycle(values, strconv.Itoa(current)))
	return n
}

func (h *Handler) renderMenu(req request, messageID int) error {
	st := h.states.Get(req.chatID, req.userID)
	if messageID == 0 {
		messageID = st.MessageID
	}
	text := h.menuText(st)
	kb := h.menuKeyboard(req.userID, st)

	if messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(req.chatID, messageID, text, kb); err == nil {
			return nil
		}
	}
	msgID, err := h.tg.SendTextWithKeyboard(req.chatID, text, kb)
	if err != nil {
		return err
	}
	h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.MessageID = msgID })
	return nil
}

func (h *Handler) menuText(st state.UIState) string {
	var b strings.Builder
	b.WriteString("Image Prompt Creator\n\n")
	fmt.Fprintf(&b, "Mode: %s, media: %s\n", st.Mode, st.Media)
	fmt.Fprintf(&b, "Rows: %d, dedup: %s\n", st.Rows, onOff(st.Dedup))
	if st.Mode == state.ModeLLM {
		fmt.Fprintf(&b, "Chaos: %d\n", st.ChaosLevel)
	}
	if st.ExclusionPhrase != "" {
		fmt.Fprintf(&b, "Exclusion: %s (%s)\n", onOff(st.ExclusionEnabled), truncateLine(st.ExclusionPhrase, 40))
	}
	fmt.Fprintf(&b, "Picks: %d\n", len(st.Selections))

	tails := h.svc.Presets().Tails[st.Media]
	tail := "(none)"
	if st.TailEnabled && st.TailIndex < len(tails) {
		tail = tails[st.TailIndex].Description
	}
	fmt.Fprintf(&b, "Tail: %s\n", truncateLine(tail, 40))
	if st.Media == presets.MediaImage {
		b.WriteString(optionsText(st.Options) + "\n")
	} else {
		fmt.Fprintf(&b, "Content flags: %s\n", onOff(st.ContentFlags.Enabled))
	}

	switch st.Menu {
	case state.MenuArrange:
		fmt.Fprintf(&b, "\nArrange: %s, strength %d, length %s, limit %s, language %s\n",
			st.ArrangePreset, st.ArrangeStrength, st.ArrangeLength, limitLabel(st.LengthLimit), st.OutputLanguage)
	case state.MenuStoryboard:
		tpl := storyboard.LookupTemplate(st.StoryboardTemplate)
		fmt.Fprintf(&b, "\nStoryboard: %s, %ds, %d cuts\n", tpl.Label, st.StoryboardDuration, st.StoryboardCuts)
		if tpl.Description != "" {
			b.WriteString(tpl.Description + "\n")
		}
	}

	if st.LastText != "" {
		fmt.Fprintf(&b, "\nWorking prompt: %s\n", truncateLine(st.LastText, 80))
	}
	return strings.TrimSpace(b.String())
}

func (h *Handler) menuKeyboard(ownerID int64, st state.UIState) tgbotapi.InlineKeyboardMarkup {
	switch st.Menu {
	case state.MenuOptions:
		return optionsKeyboard(ownerID, st)
	case state.MenuTail:
		return tailKeyboard(ownerID, st, h.svc.Presets().Tails[st.Media])
	case state.MenuFlags:
		return flagsKeyboard(ownerID, st)
	case state.MenuArrange:
		return arrangeKeyboard(ownerID, st, h.svc.Presets().Arrange)
	case state.MenuStoryboard:
		return storyboardKeyboard(ownerID, st)
	default:
		return mainKeyboard(ownerID, st)
	}
}

func button(label string, ownerID int64, parts ...string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, parts...))
}

func backRow(ownerID int64) []tgbotapi.InlineKeyboardButton {
	return []tgbotapi.InlineKeyboardButton{button("⬅ Back", ownerID, "menu", state.MenuMain)}
}

func mainKeyboard(ownerID int64, st state.UIState) tgbotapi.InlineKeyboardMarkup {
	modeText := "DB"
	if st.Mode == state.ModeLLM {
		modeText = "LLM"
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			button("Mode: "+modeText, ownerID, "mode"),
			button("Media: "+st.Media, ownerID, "media"),
		},
		{
			button("−10", ownerID, "rows", "--"),
			button("−", ownerID, "rows", "-"),
			button(fmt.Sprintf("Rows %d", st.Rows), ownerID, "menu", state.MenuMain),
			button("+", ownerID, "rows", "+"),
			button("+10", ownerID, "rows", "++"),
		},
	}
	if st.Mode == state.ModeLLM {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			button("Chaos −", ownerID, "chaos", "-"),
			button(fmt.Sprintf("Chaos %d", st.ChaosLevel), ownerID, "menu", state.MenuMain),
			button("Chaos +", ownerID, "chaos", "+"),
		})
	}

	toggles := []tgbotapi.InlineKeyboardButton{button("Dedup: "+onOff(st.Dedup), ownerID, "dedup")}
	if st.ExclusionPhrase != "" {
		toggles = append(toggles, button("Exclusion: "+onOff(st.ExclusionEnabled), ownerID, "excl"))
	}
	rows = append(rows, toggles)

	settings := []tgbotapi.InlineKeyboardButton{button("Tail", ownerID, "menu", state.MenuTail)}
	if st.Media == presets.MediaImage {
		settings = append(settings, button("Flags --", ownerID, "menu", state.MenuOptions))
	} else {
		settings = append(settings, button("Content flags", ownerID, "menu", state.MenuFlags))
	}
	rows = append(rows, settings,
		[]tgbotapi.InlineKeyboardButton{
			button("Arrange", ownerID, "menu", state.MenuArrange),
			button("Storyboard", ownerID, "menu", state.MenuStoryboard),
		},
		[]tgbotapi.InlineKeyboardButton{
			button("🎲 Generate", ownerID, "generate"),
		},
		[]tgbotapi.InlineKeyboardButton{
			button("Reset", ownerID, "reset"),
			button("Close", ownerID, "close"),
		},
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func optionsKeyboard(ownerID int64, st state.UIState) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, flag := range prompt.FlagOrder {
		value := st.Options.Values[flag]
		if !st.Options.Enabled[flag] || value == "" {
			value = "off"
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			button(fmt.Sprintf("--%s %s", flag, value), ownerID, "opt", flag),
		})
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func tailKeyboard(ownerID int64, st state.UIState, tails []presets.Tail) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, t := range tails {
		label := truncateLine(t.Description, 40)
		if (i == 0 && !st.TailEnabled) || (st.TailEnabled && i == st.TailIndex) {
			label = "✅ " + label
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{button(label, ownerID, "tail", strconv.Itoa(i))})
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func flagsKeyboard(ownerID int64, st state.UIState) tgbotapi.InlineKeyboardMarkup {
	f := st.ContentFlags
	toggle := func(label, name string, v bool) tgbotapi.InlineKeyboardButton {
		return button(label+": "+onOff(v), ownerID, "flag", name)
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		{button("Content flags: "+onOff(f.Enabled), ownerID, "flags")},
		{toggle("Narration", "narration", f.Narration), toggle("BGM", "bgm", f.BGM)},
		{toggle("Ambient", "ambient_sound", f.AmbientSound), toggle("Dialogue", "dialogue", f.Dialogue)},
		{toggle("Subtitles", "dialogue_subtitle", f.DialogueSubtitle), toggle("Telop", "telop", f.Telop)},
		{
			button("Persons: "+orDash(f.PersonCount), ownerID, "persons"),
			button("Cuts: "+orDash(f.PlannedCuts), ownerID, "plannedcuts"),
			button("Speech: "+orDash(f.SpokenLanguage), ownerID, "spoken"),
		},
		backRow(ownerID),
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func arrangeKeyboard(ownerID int64, st state.UIState, list []presets.Arrange) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, p := range list {
		label := truncateLine(p.Label, 24)
		if p.ID == st.ArrangePreset {
			label = "✅ " + label
		}
		row = append(row, button(label, ownerID, "arr", strconv.Itoa(i)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows,
		[]tgbotapi.InlineKeyboardButton{
			button(fmt.Sprintf("Strength %d", st.ArrangeStrength), ownerID, "strength"),
			button("Length "+st.ArrangeLength, ownerID, "alen"),
		},
		[]tgbotapi.InlineKeyboardButton{
			button("Limit "+limitLabel(st.LengthLimit), ownerID, "alimit"),
			button("Language "+st.OutputLanguage, ownerID, "lang"),
		},
		backRow(ownerID),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func storyboardKeyboard(ownerID int64, st state.UIState) tgbotapi.InlineKeyboardMarkup {
	tpl := storyboard.LookupTemplate(st.StoryboardTemplate)
	rows := [][]tgbotapi.InlineKeyboardButton{
		{button("Template: "+truncateLine(tpl.Label, 28), ownerID, "tpl")},
		{
			button(fmt.Sprintf("%ds", st.StoryboardDuration), ownerID, "dur"),
			button(fmt.Sprintf("%d cuts", st.StoryboardCuts), ownerID, "cuts"),
			button("Auto: "+onOff(st.StoryboardAuto), ownerID, "auto"),
		},
		{
			button("Continuity: "+onOff(st.StoryboardContinuity), ownerID, "cont"),
			button("Style: "+onOff(st.StoryboardStyle), ownerID, "style"),
		},
		{
			button("JSON limit "+limitLabel(st.MovieLimit), ownerID, "mlimit"),
			button("Language "+st.OutputLanguage, ownerID, "lang"),
		},
		{button("🎬 Build storyboard", ownerID, "sbrun")},
		backRow(ownerID),
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", menuCallbackPrefix, ownerID, strings.Join(parts, ":"))
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func limitLabel(n int) string {
	if n <= 0 {
		return "none"
	}
	return strconv.Itoa(n)
}
