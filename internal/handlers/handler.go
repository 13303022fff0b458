package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/mediagroup"
	"pin-ad-studio/internal/pipeline"
	"pin-ad-studio/internal/presets"
	"pin-ad-studio/internal/session"
	"pin-ad-studio/internal/telegram"
)

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendPhoto(chatID int64, image []byte, name, caption string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type Options struct {
	Telegram Messenger
	Pipeline Runner
	Sessions *session.Store
	Presets  *presets.Catalog
	MinScale float64
	Logger   *slog.Logger
}

type Handler struct {
	tg         Messenger
	pipeline   Runner
	sessions   *session.Store
	presets    *presets.Catalog
	minScale   float64
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		tg:       opts.Telegram,
		pipeline: opts.Pipeline,
		sessions: opts.Sessions,
		presets:  opts.Presets,
		minScale: opts.MinScale,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID
	username := msg.From.UserName

	if msg.IsCommand() {
		return h.handleCommand(chatID, userID, username, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, username, msg)
	}

	if msg.Document != nil {
		return h.tg.SendText(chatID, "📷 Please send images as photos, not files.")
	}

	return nil
}

// HandleMediaGroup runs an album of two photos: the first picked is the pin,
// the second the advertiser background.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	ids := group.FileIDs()
	if len(ids) != 2 {
		_ = h.tg.SendText(group.ChatID, fmt.Sprintf("❌ Send exactly two photos in an album (pin first, then background), got %d.", len(ids)))
		return
	}

	if err := h.compose(ctx, group.ChatID, group.UserID, group.Username, ids[0], ids[1], group.Caption); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "placement":
		sess := h.sessions.Snapshot(userID, username)
		if args == "" {
			return h.tg.SendText(chatID, "Current placement: "+formatPlacement(sess.Settings.Placement)+"\nUsage: /placement <x> <y> <scale>")
		}
		opts, err := parseCaption(args, sess.Settings.Placement)
		if err == nil && !opts.HasPlacement {
			err = errors.New("expected <x> <y> <scale>")
		}
		if err == nil {
			err = checkPlacement(opts.Placement, h.minScale)
		}
		if err != nil {
			return h.tg.SendText(chatID, "❌ "+err.Error())
		}
		h.sessions.Update(userID, username, func(st *session.Settings) {
			st.Placement = opts.Placement
			st.Preset = ""
		})
		return h.tg.SendText(chatID, "✅ Placement set: "+formatPlacement(opts.Placement))
	case "preset":
		if args == "" {
			return h.tg.SendText(chatID, h.presetList())
		}
		p, ok := h.presets.Get(args)
		if !ok {
			return h.tg.SendText(chatID, fmt.Sprintf("❌ Unknown preset %q.\n\n%s", args, h.presetList()))
		}
		h.sessions.Update(userID, username, func(st *session.Settings) {
			st.Placement = p.Placement()
			st.Preset = p.Name
		})
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Preset %q: %s", p.Name, formatPlacement(p.Placement())))
	case "presets":
		return h.tg.SendText(chatID, h.presetList())
	case "tone":
		if !validTone(args) {
			return h.tg.SendText(chatID, "Tones: "+toneKeys()+"\nUsage: /tone <name>")
		}
		h.sessions.Update(userID, username, func(st *session.Settings) { st.Tone = strings.ToLower(args) })
		return h.tg.SendText(chatID, "✅ Tone set: "+strings.ToLower(args))
	case "product":
		h.sessions.Update(userID, username, func(st *session.Settings) { st.Product = args })
		if args == "" {
			return h.tg.SendText(chatID, "✅ Product hint cleared.")
		}
		return h.tg.SendText(chatID, "✅ Product: "+args)
	case "settings":
		return h.showSettings(chatID, userID, username)
	case "cancel":
		if _, ok := h.sessions.TakePendingPin(userID); ok {
			return h.tg.SendText(chatID, "✅ Pending pin dropped.")
		}
		return h.tg.SendText(chatID, "Nothing to cancel.")
	case "reset":
		h.sessions.Snapshot(userID, username)
		h.sessions.Reset(userID)
		return h.tg.SendText(chatID, "✅ Settings reset to defaults.")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]
	fileID := photo.FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			Username:     username,
			MediaGroupID: msg.MediaGroupID,
			MessageID:    msg.MessageID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	if pin, ok := h.sessions.TakePendingPin(userID); ok {
		return h.compose(ctx, chatID, userID, username, pin, fileID, msg.Caption)
	}

	// A caption on the pin updates the stored settings for the coming run.
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		sess := h.sessions.Snapshot(userID, username)
		opts, err := parseCaption(caption, sess.Settings.Placement)
		if err == nil && opts.HasPlacement {
			err = checkPlacement(opts.Placement, h.minScale)
		}
		if err != nil {
			return h.tg.SendText(chatID, "❌ "+err.Error())
		}
		h.sessions.Update(userID, username, func(st *session.Settings) {
			if opts.HasPlacement {
				st.Placement = opts.Placement
				st.Preset = ""
			}
			if opts.Product != "" {
				st.Product = opts.Product
			}
		})
	}

	h.sessions.SetPendingPin(userID, username, fileID)
	return h.tg.SendText(chatID, "📌 Got the pin. Now send the advertiser background photo.")
}

func (h *Handler) compose(ctx context.Context, chatID int64, userID int64, username, pinID, advertiserID, caption string) error {
	sess := h.sessions.Snapshot(userID, username)
	settings := sess.Settings

	opts, err := parseCaption(caption, settings.Placement)
	if err != nil {
		return h.tg.SendText(chatID, "❌ "+err.Error())
	}
	product := settings.Product
	if opts.Product != "" {
		product = opts.Product
	}

	h.tg.SendTyping(chatID)

	fileIDs := []string{pinID, advertiserID}
	downloads := make([][]byte, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		eg.Go(func() error {
			data, err := h.tg.DownloadFile(egCtx, fileID)
			if err != nil {
				return err
			}
			downloads[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photos.")
	}

	res, err := h.pipeline.Run(ctx, pipeline.Request{
		Pin:        downloads[0],
		Advertiser: downloads[1],
		Placement:  opts.Placement,
		AdCopy:     adcopy.PromptOptions{Product: product, Tone: settings.Tone},
	})
	if err != nil {
		h.logger.Error("compose failed", "user_id", userID, "err", err)
		return h.tg.SendText(chatID, "❌ "+userMessage(err))
	}

	photoCaption := fmt.Sprintf("✅ %d×%d, %s", res.Width, res.Height, formatPlacement(opts.Placement))
	if res.Clipped {
		photoCaption += "\n⚠️ The pin did not fit and was cropped at the edges."
	}
	if err := h.tg.SendPhoto(chatID, res.Image, "pin-ad.png", photoCaption); err != nil {
		return err
	}

	if strings.TrimSpace(res.AdCopy) == "" {
		return nil
	}
	return h.tg.SendText(chatID, res.AdCopy)
}

func (h *Handler) presetList() string {
	var b strings.Builder
	b.WriteString("Presets:\n")
	for _, p := range h.presets.List() {
		b.WriteString(fmt.Sprintf("• %s (%s)\n", p.Name, formatPlacement(p.Placement())))
	}
	b.WriteString("\nUsage: /preset <name>")
	return b.String()
}

func userMessage(err error) string {
	var (
		decodeErr *compositor.DecodeError
		paramErr  *compositor.InvalidParameterError
		stageErr  *pipeline.StageError
	)
	switch {
	case errors.As(err, &decodeErr):
		name := "background"
		if decodeErr.Input == "foreground" {
			name = "pin"
		}
		return "Could not read the " + name + " photo. Send a PNG or JPEG image."
	case errors.As(err, &paramErr):
		return paramErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Please try again."
	case errors.As(err, &stageErr) && stageErr.Stage == pipeline.StageBackgroundRemoval:
		return "Background removal failed: " + stageErr.Err.Error()
	}
	return "Something went wrong. Please try again."
}

func validTone(key string) bool {
	for _, t := range adcopy.Tones() {
		if strings.EqualFold(t.Key, key) {
			return true
		}
	}
	return false
}

func toneKeys() string {
	var keys []string
	for _, t := range adcopy.Tones() {
		keys = append(keys, t.Key)
	}
	return strings.Join(keys, ", ")
}

const helpText = "📌 Pin Ad Studio\n\n" +
	"Send two photos: first the pin (the subject), then the advertiser background. " +
	"You can also send both at once as an album, pin first.\n\n" +
	"The pin's background is removed, it is placed on the background and ad copy is written for the result.\n\n" +
	"A caption sets placement and product for that run, e.g. `x=100 y=0 scale=1.2 cedar gazebo` or `100 0 1.2`.\n\n" +
	"Commands:\n" +
	"/placement <x> <y> <scale> - Set the placement\n" +
	"/preset <name> - Use a saved placement\n" +
	"/presets - List presets\n" +
	"/tone <name> - Ad copy tone\n" +
	"/product <text> - Product hint for the ad copy\n" +
	"/settings - Settings menu\n" +
	"/cancel - Drop the pending pin\n" +
	"/reset - Back to defaults"
