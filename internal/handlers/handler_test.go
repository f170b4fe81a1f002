package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/state"
	"image-prompt-creator/internal/store"
	"image-prompt-creator/internal/telegram"
)

type sentDoc struct {
	name    string
	data    []byte
	caption string
}

type fakeSender struct {
	texts     []string
	keyboards []telegram.Keyboard
	edits     int
	answers   []string
	alerts    []bool
	docs      []sentDoc
	files     map[string][]byte
}

func (f *fakeSender) SendText(_ int64, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendTextWithKeyboard(_ int64, text string, kb telegram.Keyboard) (int, error) {
	f.texts = append(f.texts, text)
	f.keyboards = append(f.keyboards, kb)
	return 100 + len(f.keyboards), nil
}

func (f *fakeSender) EditTextWithKeyboard(_ int64, _ int, text string, kb telegram.Keyboard) error {
	f.edits++
	f.texts = append(f.texts, text)
	f.keyboards = append(f.keyboards, kb)
	return nil
}

func (f *fakeSender) AnswerCallback(_ string, text string, alert bool) error {
	f.answers = append(f.answers, text)
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeSender) SendTyping(int64) {}

func (f *fakeSender) SendDocument(_ int64, name string, data []byte, caption string) error {
	f.docs = append(f.docs, sentDoc{name: name, data: data, caption: caption})
	return nil
}

func (f *fakeSender) DownloadFile(_ context.Context, fileID string, _ int64) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, telegram.ErrFileTooLarge
	}
	return data, nil
}

func (f *fakeSender) last() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

// newTestStore seeds one attribute type with two details; only detail 1 has
// a prompt.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handlers.db")
	s, err := store.Open(store.Options{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	seed := []string{
		`INSERT INTO attribute_types (id, attribute_name, description) VALUES (1, 'style', 'art style')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (1, 1, 'watercolor', 'watercolor')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (2, 1, 'oil', 'oil')`,
		`INSERT INTO prompts (id, content) VALUES (1, 'First prompt')`,
		`INSERT INTO prompt_attribute_details (prompt_id, attribute_detail_id) VALUES (1, 1)`,
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return s
}

func newTestHandler(t *testing.T) (*Handler, *fakeSender) {
	t.Helper()
	dir := t.TempDir()
	st := newTestStore(t)
	reg := presets.NewRegistry(presets.Paths{
		Tails:      filepath.Join(dir, "tails.yaml"),
		Arrange:    filepath.Join(dir, "arrange.yaml"),
		Characters: filepath.Join(dir, "chars.yaml"),
	}, nil)
	svc := service.New(service.Options{
		Store:         st,
		Presets:       reg,
		Generator:     generator.New(generator.Options{Source: st, ExclusionPath: filepath.Join(dir, "exclusions.csv")}),
		ExclusionPath: filepath.Join(dir, "exclusions.csv"),
		FailedDir:     dir,
	})
	sender := &fakeSender{files: map[string][]byte{}}
	return New(Options{Telegram: sender, Service: svc}), sender
}

func command(userID int64, text string) telegram.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return telegram.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "tester"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}}
}

func text(userID int64, s string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: s,
	}}
}

func callback(fromID, ownerID int64, parts ...string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: fromID},
		Data: cb(ownerID, parts...),
		Message: &tgbotapi.Message{
			MessageID: 7,
			Chat:      &tgbotapi.Chat{ID: ownerID},
		},
	}}
}

func TestGenerateWithPick(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	for _, c := range []string{"/pick 1 1", "/generate 1"} {
		if err := h.HandleUpdate(ctx, command(42, c)); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
	}
	if got := sender.last(); got != "First prompt." {
		t.Fatalf("generated = %q", got)
	}
	st := h.states.Get(42, 42)
	if st.LastText != "First prompt." || len(st.Selections) != 1 {
		t.Fatalf("state = %+v", st)
	}
	if _, ok := h.history.Last(42, "generate"); !ok {
		t.Fatal("generate was not recorded in history")
	}
}

func TestGenerateNoResults(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	if err := h.HandleUpdate(ctx, command(1, "/exclude prompt")); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleUpdate(ctx, command(1, "/generate 2")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(); !strings.Contains(got, "no prompt lines matched") || !strings.Contains(got, "exclusions: prompt") {
		t.Fatalf("reply = %q", got)
	}
}

func TestPickUnknownDetail(t *testing.T) {
	h, sender := newTestHandler(t)
	if err := h.HandleUpdate(context.Background(), command(1, "/pick 99 1")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sender.last(), "Unknown detail #99") {
		t.Fatalf("reply = %q", sender.last())
	}
}

func TestImportFlow(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	if err := h.HandleUpdate(ctx, command(5, "/import")); err != nil {
		t.Fatal(err)
	}
	if got := h.states.Get(5, 5).AwaitingInput; got != awaitImport {
		t.Fatalf("AwaitingInput = %q", got)
	}
	if err := h.HandleUpdate(ctx, text(5, "\"Second prompt\",\"2\"\n\"Broken\",\"9\"")); err != nil {
		t.Fatal(err)
	}
	got := sender.last()
	if !strings.HasPrefix(got, "Imported 1 rows. 1 rows failed:") || !strings.Contains(got, "unknown attribute_detail_id: 9") {
		t.Fatalf("reply = %q", got)
	}
	if h.states.Get(5, 5).AwaitingInput != "" {
		t.Fatal("import should no longer be pending")
	}

	if err := h.HandleUpdate(ctx, command(5, "/export")); err != nil {
		t.Fatal(err)
	}
	if len(sender.docs) != 1 || sender.docs[0].caption != "2 prompts" {
		t.Fatalf("docs = %+v", sender.docs)
	}
}

func TestDocumentRequiresImport(t *testing.T) {
	h, sender := newTestHandler(t)
	upd := telegram.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 3},
		Chat:     &tgbotapi.Chat{ID: 3},
		Document: &tgbotapi.Document{FileID: "f1"},
	}}
	if err := h.HandleUpdate(context.Background(), upd); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sender.last(), "/import first") {
		t.Fatalf("reply = %q", sender.last())
	}

	upd.Message.Caption = "/import"
	if err := h.HandleUpdate(context.Background(), upd); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sender.last(), "larger than") {
		t.Fatalf("reply = %q", sender.last())
	}
}

func TestWorkingPromptAndMovie(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	if err := h.HandleUpdate(ctx, text(9, "A lighthouse at dusk --ar 16:9")); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleUpdate(ctx, command(9, "/movie")); err != nil {
		t.Fatal(err)
	}
	want := `{"world_description":{"scope":"single_continuous_world","summary":"A lighthouse at dusk"}} --ar 16:9`
	if got := sender.last(); got != want {
		t.Fatalf("movie = %q\nwant %q", got, want)
	}
}

func TestLLMCommandsDisabled(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()
	_ = h.HandleUpdate(ctx, text(9, "A quiet harbor"))

	for _, c := range []string{"/arrange", "/length half", "/world", "/chaos", "/shot"} {
		if err := h.HandleUpdate(ctx, command(9, c)); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !strings.HasPrefix(sender.last(), "LLM is disabled") {
			t.Fatalf("%s reply = %q", c, sender.last())
		}
	}
}

func TestOfflineStoryboard(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()
	_ = h.HandleUpdate(ctx, text(9, "A boat leaves. Rain falls. The town sleeps."))

	if err := h.HandleUpdate(ctx, command(9, "/storyboard")); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, s := range sender.texts {
		if strings.Contains(s, `"storyboard"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no storyboard JSON in %q", sender.texts)
	}
	if !strings.Contains(sender.last(), "Built without the LLM") {
		t.Fatalf("last = %q", sender.last())
	}
}

func TestOptCommand(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, command(2, "/opt ar 16:9"))
	if got := sender.last(); got != "Image flags: --ar 16:9" {
		t.Fatalf("reply = %q", got)
	}
	_ = h.HandleUpdate(ctx, command(2, "/opt ar 7:1"))
	if !strings.HasPrefix(sender.last(), "--ar accepts:") {
		t.Fatalf("reply = %q", sender.last())
	}
	_ = h.HandleUpdate(ctx, command(2, "/opt ar off"))
	if got := sender.last(); got != "Image flags: (none)" {
		t.Fatalf("reply = %q", got)
	}
}

func TestRegisterCharacter(t *testing.T) {
	h, sender := newTestHandler(t)
	if err := h.HandleUpdate(context.Background(), command(4, "/register @hero Hero he")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(); !strings.Contains(got, "@hero Hero (he)") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCallbackOwnerCheck(t *testing.T) {
	h, sender := newTestHandler(t)
	ctx := context.Background()

	if err := h.HandleUpdate(ctx, callback(2, 1, "rows", "+")); err != nil {
		t.Fatal(err)
	}
	if len(sender.alerts) != 1 || !sender.alerts[0] {
		t.Fatalf("alerts = %v", sender.alerts)
	}
	if got := h.states.Get(1, 1).Rows; got != 10 {
		t.Fatalf("rows changed by a foreign user: %d", got)
	}

	if err := h.HandleUpdate(ctx, callback(1, 1, "rows", "+")); err != nil {
		t.Fatal(err)
	}
	if got := h.states.Get(1, 1).Rows; got != 11 {
		t.Fatalf("rows = %d, want 11", got)
	}
	if sender.edits != 1 {
		t.Fatalf("edits = %d", sender.edits)
	}
}

func TestApplyAction(t *testing.T) {
	arrange := []presets.Arrange{{ID: "auto"}, {ID: "noir"}}

	tests := []struct {
		name   string
		action string
		args   []string
		check  func(state.UIState) bool
	}{
		{"mode", "mode", nil, func(st state.UIState) bool { return st.Mode == state.ModeLLM }},
		{"media resets tail", "media", nil, func(st state.UIState) bool {
			return st.Media == presets.MediaMovie && !st.TailEnabled && st.TailIndex == 0
		}},
		{"tail", "tail", []string{"2"}, func(st state.UIState) bool { return st.TailEnabled && st.TailIndex == 2 }},
		{"tail out of range", "tail", []string{"9"}, func(st state.UIState) bool { return st.TailIndex == 1 }},
		{"arrange", "arr", []string{"1"}, func(st state.UIState) bool { return st.ArrangePreset == "noir" }},
		{"option cycles", "opt", []string{"ar"}, func(st state.UIState) bool { return st.Options.Values["ar"] == "16:9" }},
		{"cuts wrap", "cuts", nil, func(st state.UIState) bool { return st.StoryboardCuts == 1 }},
		{"exclusion needs phrase", "excl", nil, func(st state.UIState) bool { return !st.ExclusionEnabled }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := state.NewStore(state.Options{}).Get(1, 1)
			st.TailEnabled, st.TailIndex = true, 1
			st.StoryboardCuts = 10
			applyAction(&st, tt.action, tt.args, 4, arrange)
			st.Sync()
			if !tt.check(st) {
				t.Fatalf("state after %s = %+v", tt.action, st)
			}
		})
	}
}

func TestCycle(t *testing.T) {
	values := []string{"", "a", "b"}
	for _, tt := range []struct{ in, want string }{
		{"", "a"}, {"a", "b"}, {"b", ""}, {"zzz", ""},
	} {
		if got := cycle(values, tt.in); got != tt.want {
			t.Errorf("cycle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := cycleInt(limitChoices, 1500); got != 0 {
		t.Errorf("cycleInt wrap = %d", got)
	}
}

func TestParsePick(t *testing.T) {
	tests := []struct {
		in    string
		id    int64
		count int
		ok    bool
	}{
		{"3 2", 3, 2, true},
		{"3=4", 3, 4, true},
		{"3", 3, 1, true},
		{"3 0", 3, 0, true},
		{"x 1", 0, 0, false},
		{"", 0, 0, false},
		{"1 2 3", 0, 0, false},
	}
	for _, tt := range tests {
		id, count, ok := parsePick(tt.in)
		if id != tt.id || count != tt.count || ok != tt.ok {
			t.Errorf("parsePick(%q) = %d, %d, %v", tt.in, id, count, ok)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err   error
		want  string
		known bool
	}{
		{service.ErrLLMDisabled, "LLM is disabled", true},
		{fmt.Errorf("wrap: %w", service.ErrEmptyPrompt), "There is no prompt", true},
		{&openai.APIError{Status: 429, Retries: 2, Summary: "message='Rate limit reached', code=rate_limit_exceeded"}, "LLM request failed (status 429): message='Rate limit reached', code=rate_limit_exceeded (retries 2)", true},
		{&openai.APIError{Summary: "dial tcp: connection refused"}, "LLM request failed: dial tcp: connection refused", true},
		{&generator.NoResultsError{Requested: 3}, "no prompt lines matched", true},
		{context.DeadlineExceeded, "timed out", true},
		{errors.New("boom"), "Something went wrong", false},
	}
	for _, tt := range tests {
		msg, known := userMessage(tt.err)
		if !strings.Contains(msg, tt.want) || known != tt.known {
			t.Errorf("userMessage(%v) = %q, %v", tt.err, msg, known)
		}
	}
}
