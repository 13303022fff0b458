package handlers

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/session"
)

const settingsCallbackPrefix = "st"

func (h *Handler) showSettings(chatID int64, userID int64, username string) error {
	sess := h.sessions.Snapshot(userID, username)
	_, err := h.tg.SendTextWithKeyboard(chatID, settingsText(sess), h.settingsKeyboard(userID, sess.Settings))
	return err
}

// handleCallback serves the inline settings menu. Callback data has the form
// "st:<owner>:<action>[:<arg>]".
func (h *Handler) handleCallback(q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil || q.Message.Chat == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, settingsCallbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.", true)
		return nil
	}

	action := parts[2]
	args := parts[3:]
	chatID := q.Message.Chat.ID
	username := q.From.UserName

	switch action {
	case "preset":
		if len(args) < 1 {
			break
		}
		idx, err := strconv.Atoi(args[0])
		list := h.presets.List()
		if err != nil || idx < 0 || idx >= len(list) {
			_ = h.tg.AnswerCallback(q.ID, "Preset is no longer available.", false)
			break
		}
		p := list[idx]
		h.sessions.Update(ownerID, username, func(st *session.Settings) {
			st.Placement = p.Placement()
			st.Preset = p.Name
		})
		_ = h.tg.AnswerCallback(q.ID, p.Name, false)
	case "tone":
		if len(args) < 1 || !validTone(args[0]) {
			break
		}
		h.sessions.Update(ownerID, username, func(st *session.Settings) { st.Tone = args[0] })
		_ = h.tg.AnswerCallback(q.ID, "Tone: "+args[0], false)
	case "reset":
		h.sessions.Reset(ownerID)
		_ = h.tg.AnswerCallback(q.ID, "Reset", false)
	case "close":
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.tg.EditTextWithKeyboard(chatID, q.Message.MessageID, settingsText(h.sessions.Snapshot(ownerID, username)), tgbotapi.NewInlineKeyboardMarkup())
	default:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
	}

	sess := h.sessions.Snapshot(ownerID, username)
	return h.tg.EditTextWithKeyboard(chatID, q.Message.MessageID, settingsText(sess), h.settingsKeyboard(ownerID, sess.Settings))
}

func settingsText(sess session.Session) string {
	st := sess.Settings

	preset := "custom"
	if st.Preset != "" {
		preset = st.Preset
	}
	tone := st.Tone
	if tone == "" {
		tone = "luxury"
	}
	product := st.Product
	if product == "" {
		product = "(from image)"
	}

	var b strings.Builder
	b.WriteString("⚙️ Settings\n\n")
	b.WriteString(fmt.Sprintf("Placement: %s (%s)\n", formatPlacement(st.Placement), preset))
	b.WriteString(fmt.Sprintf("Tone: %s\n", tone))
	b.WriteString(fmt.Sprintf("Product: %s\n", truncateLine(product, 80)))
	if sess.PendingPin != "" {
		b.WriteString("\n📌 Pin saved, waiting for the background photo.\n")
	}
	return strings.TrimSpace(b.String())
}

func (h *Handler) settingsKeyboard(ownerID int64, st session.Settings) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	var row []tgbotapi.InlineKeyboardButton
	for i, p := range h.presets.List() {
		label := p.Name
		if strings.EqualFold(p.Name, st.Preset) {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "preset", strconv.Itoa(i))))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
		row = nil
	}

	current := st.Tone
	if current == "" {
		current = "luxury"
	}
	for _, t := range adcopy.Tones() {
		label := t.Name
		if t.Key == current {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "tone", t.Key)))
	}
	rows = append(rows, row)

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
		tgbotapi.NewInlineKeyboardButtonData("Close", cb(ownerID, "close")),
	})

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", settingsCallbackPrefix, ownerID, strings.Join(parts, ":"))
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
