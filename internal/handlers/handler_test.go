package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/mediagroup"
	"pin-ad-studio/internal/pipeline"
	"pin-ad-studio/internal/presets"
	"pin-ad-studio/internal/session"
	"pin-ad-studio/internal/telegram"
)

type sentPhoto struct {
	image   []byte
	caption string
}

type fakeMessenger struct {
	mu       sync.Mutex
	texts    []string
	photos   []sentPhoto
	edits    []string
	answers  []string
	files    map[string][]byte
	keyboard telegram.Keyboard
}

func (f *fakeMessenger) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendTyping(chatID int64) {}

func (f *fakeMessenger) SendPhoto(chatID int64, image []byte, name, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentPhoto{image: image, caption: caption})
	return nil
}

func (f *fakeMessenger) SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.keyboard = kb
	return 99, nil
}

func (f *fakeMessenger) EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	f.keyboard = kb
	return nil
}

func (f *fakeMessenger) AnswerCallback(callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (f *fakeMessenger) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	res  pipeline.Result
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

func newTestHandler() (*Handler, *fakeMessenger, *fakeRunner) {
	tg := &fakeMessenger{files: map[string][]byte{
		"pin-file": []byte("pin-bytes"),
		"ad-file":  []byte("ad-bytes"),
	}}
	run := &fakeRunner{res: pipeline.Result{Image: []byte("png"), Width: 800, Height: 600, AdCopy: "✨ Stunning"}}

	h := New(Options{
		Telegram: tg,
		Pipeline: run,
		Sessions: session.NewStore(session.Options{
			Defaults: session.Settings{Placement: compositor.Placement{X: 100, Y: 0, Scale: 1.2}},
		}),
		Presets:  presets.NewCatalog(append(presets.Builtin(), presets.Preset{Name: "Gazebo left", X: 40, Y: 220, Scale: 0.8})),
		MinScale: 0.1,
	})
	return h, tg, run
}

func command(text string) telegram.Update {
	name := strings.Fields(text)[0]
	return telegram.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7, UserName: "ann"},
		Chat:      &tgbotapi.Chat{ID: 70},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func photo(msgID int, fileID, caption, group string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		MessageID:    msgID,
		From:         &tgbotapi.User{ID: 7, UserName: "ann"},
		Chat:         &tgbotapi.Chat{ID: 70},
		Caption:      caption,
		MediaGroupID: group,
		Photo: []tgbotapi.PhotoSize{
			{FileID: fileID + "-small", Width: 90, Height: 90},
			{FileID: fileID, Width: 1280, Height: 960},
		},
	}}
}

func TestPinThenBackgroundRunsPipeline(t *testing.T) {
	h, tg, run := newTestHandler()
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photo(1, "pin-file", "", "")))
	assert.Contains(t, tg.lastText(), "Got the pin")
	assert.Empty(t, run.reqs)

	require.NoError(t, h.HandleUpdate(ctx, photo(2, "ad-file", "x=10 y=20 scale=0.5 teak bench", "")))
	require.Len(t, run.reqs, 1)

	req := run.reqs[0]
	assert.Equal(t, []byte("pin-bytes"), req.Pin)
	assert.Equal(t, []byte("ad-bytes"), req.Advertiser)
	assert.Equal(t, compositor.Placement{X: 10, Y: 20, Scale: 0.5}, req.Placement)
	assert.Equal(t, adcopy.PromptOptions{Product: "teak bench"}, req.AdCopy)

	require.Len(t, tg.photos, 1)
	assert.Equal(t, []byte("png"), tg.photos[0].image)
	assert.Contains(t, tg.photos[0].caption, "800×600")
	assert.NotContains(t, tg.photos[0].caption, "cropped")
	assert.Equal(t, "✨ Stunning", tg.lastText())

	_, pending := h.sessions.TakePendingPin(7)
	assert.False(t, pending)
}

func TestClippedResultIsNoted(t *testing.T) {
	h, tg, run := newTestHandler()
	run.res.Clipped = true
	h.sessions.SetPendingPin(7, "ann", "pin-file")

	require.NoError(t, h.HandleUpdate(context.Background(), photo(2, "ad-file", "", "")))
	require.Len(t, tg.photos, 1)
	assert.Contains(t, tg.photos[0].caption, "cropped")
}

func TestAlbumUsesMessageOrder(t *testing.T) {
	h, tg, run := newTestHandler()
	flushed := make(chan mediagroup.Group, 1)
	h.SetMediaGroupAggregator(mediagroup.New(mediagroup.Options{
		Debounce: 10 * time.Millisecond,
		OnFlush:  func(g mediagroup.Group) { flushed <- g },
	}))

	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, photo(6, "ad-file", "", "album")))
	require.NoError(t, h.HandleUpdate(ctx, photo(5, "pin-file", "100 0 1.2", "album")))

	select {
	case g := <-flushed:
		h.HandleMediaGroup(ctx, g)
	case <-time.After(2 * time.Second):
		t.Fatal("album not flushed")
	}

	require.Len(t, run.reqs, 1)
	assert.Equal(t, []byte("pin-bytes"), run.reqs[0].Pin)
	assert.Equal(t, []byte("ad-bytes"), run.reqs[0].Advertiser)
	assert.Len(t, tg.photos, 1)
}

func TestAlbumWithWrongCount(t *testing.T) {
	h, tg, run := newTestHandler()

	h.HandleMediaGroup(context.Background(), mediagroup.Group{
		ChatID: 70, UserID: 7, Photos: []mediagroup.Photo{{MessageID: 1, FileID: "pin-file"}},
	})
	assert.Empty(t, run.reqs)
	assert.Contains(t, tg.lastText(), "exactly two photos")
}

func TestPipelineErrorsAreReported(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"decode":   {err: &compositor.DecodeError{Input: "foreground", Err: errors.New("bad")}, want: "Could not read the pin photo"},
		"provider": {err: &pipeline.StageError{Stage: pipeline.StageBackgroundRemoval, Err: errors.New("402: no credits")}, want: "no credits"},
		"param":    {err: &compositor.InvalidParameterError{Param: "scale", Value: 0.0, Reason: "must be a positive number"}, want: "invalid scale"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h, tg, run := newTestHandler()
			run.err = tc.err
			h.sessions.SetPendingPin(7, "ann", "pin-file")

			require.NoError(t, h.HandleUpdate(context.Background(), photo(2, "ad-file", "", "")))
			assert.Empty(t, tg.photos)
			assert.Contains(t, tg.lastText(), tc.want)
		})
	}
}

func TestDownloadFailure(t *testing.T) {
	h, tg, run := newTestHandler()
	h.sessions.SetPendingPin(7, "ann", "missing")

	require.NoError(t, h.HandleUpdate(context.Background(), photo(2, "ad-file", "", "")))
	assert.Empty(t, run.reqs)
	assert.Contains(t, tg.lastText(), "Failed to download")
}

func TestSettingsCommands(t *testing.T) {
	h, tg, _ := newTestHandler()
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command("/placement 5 6 0.7")))
	assert.Contains(t, tg.lastText(), "x=5 y=6 scale=0.7")

	require.NoError(t, h.HandleUpdate(ctx, command("/placement 5 6 0.01")))
	assert.Contains(t, tg.lastText(), "at least 0.1")
	assert.Equal(t, 0.7, h.sessions.Snapshot(7, "").Settings.Placement.Scale)

	require.NoError(t, h.HandleUpdate(ctx, command("/preset gazebo-left")))
	st := h.sessions.Snapshot(7, "").Settings
	assert.Equal(t, compositor.Placement{X: 40, Y: 220, Scale: 0.8}, st.Placement)
	assert.Equal(t, "Gazebo left", st.Preset)

	require.NoError(t, h.HandleUpdate(ctx, command("/preset nowhere")))
	assert.Contains(t, tg.lastText(), "Unknown preset")

	require.NoError(t, h.HandleUpdate(ctx, command("/tone Cozy")))
	require.NoError(t, h.HandleUpdate(ctx, command("/product cedar gazebo")))
	st = h.sessions.Snapshot(7, "").Settings
	assert.Equal(t, "cozy", st.Tone)
	assert.Equal(t, "cedar gazebo", st.Product)

	require.NoError(t, h.HandleUpdate(ctx, command("/tone loud")))
	assert.Contains(t, tg.lastText(), "Tones:")

	require.NoError(t, h.HandleUpdate(ctx, command("/reset")))
	st = h.sessions.Snapshot(7, "").Settings
	assert.Equal(t, 100, st.Placement.X)
	assert.Empty(t, st.Product)

	require.NoError(t, h.HandleUpdate(ctx, command("/presets")))
	assert.Contains(t, tg.lastText(), "Dog image")
}

func TestPinCaptionUpdatesSettings(t *testing.T) {
	h, tg, _ := newTestHandler()

	require.NoError(t, h.HandleUpdate(context.Background(), photo(1, "pin-file", "scale=0", "")))
	assert.Contains(t, tg.lastText(), "invalid scale")
	_, pending := h.sessions.TakePendingPin(7)
	assert.False(t, pending)

	require.NoError(t, h.HandleUpdate(context.Background(), photo(1, "pin-file", "x=12 garden swing", "")))
	st := h.sessions.Snapshot(7, "").Settings
	assert.Equal(t, 12, st.Placement.X)
	assert.Equal(t, "garden swing", st.Product)
}

func TestSettingsMenuCallbacks(t *testing.T) {
	h, tg, _ := newTestHandler()
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command("/settings")))
	require.NotEmpty(t, tg.keyboard.InlineKeyboard)
	assert.Contains(t, tg.lastText(), "Settings")

	callback := func(from int64, data string) telegram.Update {
		return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: from},
			Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 70}},
			Data:    data,
		}}
	}

	// Presets are listed sorted: "Dog image", "Gazebo left".
	require.NoError(t, h.HandleUpdate(ctx, callback(7, cb(7, "preset", "1"))))
	st := h.sessions.Snapshot(7, "").Settings
	assert.Equal(t, "Gazebo left", st.Preset)
	require.NotEmpty(t, tg.edits)
	assert.Contains(t, tg.edits[len(tg.edits)-1], "x=40 y=220 scale=0.8")

	require.NoError(t, h.HandleUpdate(ctx, callback(7, cb(7, "tone", "minimal"))))
	assert.Equal(t, "minimal", h.sessions.Snapshot(7, "").Settings.Tone)

	require.NoError(t, h.HandleUpdate(ctx, callback(8, cb(7, "reset"))))
	assert.Equal(t, "This menu belongs to someone else.", tg.answers[len(tg.answers)-1])
	assert.Equal(t, "minimal", h.sessions.Snapshot(7, "").Settings.Tone)
}
