package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/session"
	"image-prompt-creator/internal/state"
	"image-prompt-creator/internal/store"
	"image-prompt-creator/internal/telegram"
)

const defaultMaxUpload = 5 << 20

// Sender is the part of the Telegram client the handlers use.
type Sender interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendTyping(chatID int64)
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

type Options struct {
	Telegram  Sender
	Service   *service.Service
	States    *state.Store
	History   *session.Store
	MaxUpload int64
	Logger    *slog.Logger
}

type Handler struct {
	tg        Sender
	svc       *service.Service
	states    *state.Store
	history   *session.Store
	maxUpload int64
	logger    *slog.Logger
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxUpload := opts.MaxUpload
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	states := opts.States
	if states == nil {
		states = state.NewStore(state.Options{})
	}
	history := opts.History
	if history == nil {
		history = session.NewStore(session.Options{})
	}
	return &Handler{
		tg:        opts.Telegram,
		svc:       opts.Service,
		states:    states,
		history:   history,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// request identifies who sent an update.
type request struct {
	chatID   int64
	userID   int64
	username string
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	req := request{chatID: msg.Chat.ID, userID: msg.From.ID, username: msg.From.UserName}

	if msg.Document != nil {
		return h.handleDocument(ctx, req, msg)
	}
	if msg.IsCommand() {
		return h.handleCommand(ctx, req, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
	}
	if msg.Text != "" {
		return h.handleText(ctx, req, msg.Text)
	}
	return nil
}

func (h *Handler) handleCommand(ctx context.Context, req request, command, args string) error {
	switch command {
	case "start", "help":
		return h.tg.SendText(req.chatID, helpText)
	case "menu":
		return h.openMenu(ctx, req)
	case "generate":
		return h.cmdGenerate(ctx, req, args)
	case "attrs":
		return h.cmdAttrs(ctx, req)
	case "pick":
		return h.cmdPick(ctx, req, args)
	case "clearpicks":
		h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.Selections = nil })
		return h.tg.SendText(req.chatID, "Attribute picks cleared.")
	case "exclude":
		return h.cmdExclude(ctx, req, args)
	case "opt":
		return h.cmdOpt(req, args)
	case "arrange":
		return h.cmdArrange(ctx, req, args)
	case "length":
		return h.cmdLength(ctx, req, args)
	case "movie":
		return h.cmdMovie(req)
	case "world":
		return h.cmdWorld(ctx, req, false)
	case "chaos":
		return h.cmdWorld(ctx, req, true)
	case "shot":
		return h.cmdShot(ctx, req)
	case "storyboard":
		return h.cmdStoryboard(ctx, req, args)
	case "characters":
		return h.cmdCharacters(req)
	case "register":
		return h.cmdRegister(req, args)
	case "import":
		return h.cmdImport(ctx, req, args)
	case "export":
		return h.cmdExport(ctx, req)
	case "history":
		return h.cmdHistory(req)
	case "last":
		return h.cmdLast(req)
	case "cancel":
		h.states.Update(req.chatID, req.userID, func(st *state.UIState) { st.AwaitingInput = "" })
		return h.tg.SendText(req.chatID, "Cancelled.")
	case "reset":
		h.states.Reset(req.chatID, req.userID)
		h.history.Clear(req.userID)
		return h.tg.SendText(req.chatID, "Settings and history were reset.")
	default:
		return h.tg.SendText(req.chatID, "Unknown command. See /help.")
	}
}

// handleText imports pasted CSV when /import is pending; otherwise the text
// becomes the working prompt that the LLM commands transform.
func (h *Handler) handleText(ctx context.Context, req request, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	st := h.states.Get(req.chatID, req.userID)
	if st.AwaitingInput == awaitImport {
		return h.importContent(ctx, req, text)
	}

	h.states.Update(req.chatID, req.userID, func(st *state.UIState) {
		st.LastText = text
		st.LastMain = text
	})
	return h.tg.SendText(req.chatID, fmt.Sprintf("Working prompt set (%d chars). Try /arrange, /length, /world or /storyboard.", len([]rune(text))))
}

func (h *Handler) handleDocument(ctx context.Context, req request, msg *telegram.Message) error {
	st := h.states.Get(req.chatID, req.userID)
	if st.AwaitingInput != awaitImport && !strings.HasPrefix(strings.TrimSpace(msg.Caption), "/import") {
		return h.tg.SendText(req.chatID, "Send /import first, then the CSV file.")
	}

	data, err := h.tg.DownloadFile(ctx, msg.Document.FileID, h.maxUpload)
	if err != nil {
		if errors.Is(err, telegram.ErrFileTooLarge) {
			return h.tg.SendText(req.chatID, fmt.Sprintf("The file is larger than %d KB.", h.maxUpload>>10))
		}
		h.logger.Error("csv download failed", "event", "csv_download_failed", "chat_id", req.chatID, "error", err)
		return h.tg.SendText(req.chatID, "Could not download the file.")
	}
	return h.importContent(ctx, req, string(data))
}

// fail reports err to the chat. Expected errors get a specific message;
// anything else is logged and answered generically.
func (h *Handler) fail(req request, op string, err error) error {
	msg, known := userMessage(err)
	if !known {
		h.logger.Error("command failed", "event", "command_failed", "op", op, "chat_id", req.chatID, "error", err)
	}
	return h.tg.SendText(req.chatID, msg)
}

// userMessage maps an error to chat text. known is false for errors that
// need a log entry.
func userMessage(err error) (msg string, known bool) {
	var noRes *generator.NoResultsError
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, service.ErrLLMDisabled):
		return "LLM is disabled. Set LLM_ENABLED: true in the settings file.", true
	case errors.Is(err, service.ErrEmptyPrompt):
		return "There is no prompt yet. Use /generate or send a prompt as text.", true
	case errors.Is(err, openai.ErrMissingAPIKey):
		return "The OpenAI API key is not set.", true
	case errors.Is(err, llmtask.ErrTokenLimit):
		return "The LLM hit its token limit: " + err.Error(), true
	case errors.Is(err, llmtask.ErrEmptyResponse):
		return "The LLM returned an empty response. Please try again.", true
	case errors.Is(err, store.ErrNoValidLines):
		return "No CSV lines found. Use \"content\",\"1,2\" per line.", true
	case errors.Is(err, store.ErrNoAttributeDetails):
		return "The attribute tables are empty.", true
	case errors.As(err, &noRes):
		return noRes.Error(), true
	case errors.As(err, &apiErr):
		msg := apiErr.Error()
		if apiErr.Retries > 0 {
			msg += fmt.Sprintf(" (retries %d)", apiErr.Retries)
		}
		return msg, true
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again.", true
	}
	return "Something went wrong. Please try again.", false
}

const helpText = "Image Prompt Creator\n\n" +
	"/menu - settings (mode, media, rows, options, tail, flags, arrange, storyboard)\n" +
	"/generate [n] - build a prompt with n lines\n" +
	"/attrs - list attributes, /pick <detail_id> <count>, /clearpicks\n" +
	"/exclude <words> | off - exclusion words\n" +
	"/opt <flag> <value> | off - image flags (ar, s, chaos, q, weird)\n" +
	"/arrange [preset] [guidance] - restyle with the LLM\n" +
	"/length <half|-20%|same|+20%|double> - resize with the LLM\n" +
	"/movie - wrap as world_description JSON\n" +
	"/world, /chaos - LLM world description or chaos mix\n" +
	"/shot - LLM single-shot storyboard beat\n" +
	"/storyboard [auto] - split into timed cuts\n" +
	"/characters, /register <id> <name> [pronoun]\n" +
	"/import - then send CSV text or a .csv file, /export\n" +
	"/history, /last, /reset\n\n" +
	"Any other text becomes the working prompt."
