package intent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/agentbot/agent/form"
	"github.com/m3rciful/agentbot/agent/lead"
	"github.com/m3rciful/agentbot/agent/media"
	"github.com/m3rciful/agentbot/core/telegram/state"
)

type fakeAnswerer struct {
	mu    sync.Mutex
	calls []string
	reply string
	err   error
	block bool
}

func (f *fakeAnswerer) Generate(ctx context.Context, question string, _ int64) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, question)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	leads []lead.Lead
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, l lead.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, l)
	return f.err
}

type fakeCatalog struct {
	brochures []string
	photos    []string
	err       error
}

func (f fakeCatalog) Brochures() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.brochures) == 0 {
		return nil, media.ErrNotFound
	}
	return f.brochures, nil
}

func (f fakeCatalog) Photos() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.photos) == 0 {
		return nil, media.ErrNotFound
	}
	return f.photos, nil
}

type harness struct {
	router   *Router
	store    state.Store
	answerer *fakeAnswerer
	notifier *fakeNotifier
	texts    Texts
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	machine, err := form.New(form.Options{}, form.Texts{})
	require.NoError(t, err)
	h := &harness{
		store:    state.NewMemoryStore(),
		answerer: &fakeAnswerer{reply: "Объект в Калуге"},
		notifier: &fakeNotifier{},
	}
	opts := Options{
		Store:    h.store,
		Form:     machine,
		Answerer: h.answerer,
		Notifier: h.notifier,
		Catalog:  fakeCatalog{brochures: []string{"a.pdf"}, photos: []string{"1.jpg"}},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.router, err = New(opts)
	require.NoError(t, err)
	h.texts = h.router.texts
	return h
}

func (h *harness) say(t *testing.T, userID int64, text string) Reply {
	t.Helper()
	reply, err := h.router.Route(context.Background(), Turn{UserID: userID, ChatID: userID, Username: "ivan", FullName: "Ivan Petrov", Text: text})
	require.NoError(t, err)
	return reply
}

func (h *harness) session(t *testing.T, userID int64) (*state.Session, bool) {
	t.Helper()
	sess, ok, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return sess, ok
}

func TestApplyTriggerStartsForm(t *testing.T) {
	h := newHarness(t, nil)
	for _, trigger := range []string{h.texts.ApplyLabel, "/apply", "/APPLY@agent_bot"} {
		reply := h.say(t, 1, trigger)
		assert.Equal(t, form.DefaultTexts().AskName, reply.Text)

		sess, ok := h.session(t, 1)
		require.True(t, ok)
		assert.Equal(t, form.StateAwaitingName, sess.State)
		assert.Empty(t, sess.Fields)
	}
	assert.Empty(t, h.answerer.calls)
}

func TestBlankNameKeepsStep(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)

	for range 2 {
		reply := h.say(t, 1, "   ")
		assert.Equal(t, form.DefaultTexts().InvalidName, reply.Text)
		sess, ok := h.session(t, 1)
		require.True(t, ok)
		assert.Equal(t, form.StateAwaitingName, sess.State)
		assert.Empty(t, sess.Fields)
	}
}

func TestInvalidPhoneKeepsStep(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")

	reply := h.say(t, 1, "call me maybe")
	assert.Equal(t, form.DefaultTexts().InvalidPhone, reply.Text)
	sess, ok := h.session(t, 1)
	require.True(t, ok)
	assert.Equal(t, form.StateAwaitingPhone, sess.State)
	assert.Len(t, sess.Fields, 1)
	assert.Empty(t, h.answerer.calls)
}

func TestCompletingFormNotifiesOnceAndClears(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")
	reply := h.say(t, 1, "911-222-33")

	assert.Equal(t, h.texts.LeadSent, reply.Text)
	require.Len(t, h.notifier.leads, 1)
	l := h.notifier.leads[0]
	assert.Equal(t, "Ivan Petrov", l.Value(form.FieldName))
	assert.Equal(t, "911-222-33", l.Value(form.FieldPhone))
	assert.Equal(t, int64(1), l.UserID)
	assert.Equal(t, "ivan", l.Username)

	_, ok := h.session(t, 1)
	assert.False(t, ok)
}

func TestFailedNotificationStillClearsWithDistinctText(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.err = errors.New("chat not found")

	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")
	reply := h.say(t, 1, "911-222-33")

	assert.Equal(t, h.texts.LeadFailed, reply.Text)
	assert.NotEqual(t, h.texts.LeadSent, reply.Text)
	assert.NotEqual(t, form.DefaultTexts().InvalidPhone, reply.Text)
	assert.Len(t, h.notifier.leads, 1)
	_, ok := h.session(t, 1)
	assert.False(t, ok)
}

func TestRetriggerResetsForm(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")

	reply := h.say(t, 1, h.texts.ApplyLabel)
	assert.Equal(t, form.DefaultTexts().AskName, reply.Text)
	sess, ok := h.session(t, 1)
	require.True(t, ok)
	assert.Equal(t, form.StateAwaitingName, sess.State)
	assert.Empty(t, sess.Fields)
}

func TestCommandWithTextIsACommentNotATrigger(t *testing.T) {
	machine, err := form.New(form.Options{CollectComment: true}, form.Texts{})
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Form = machine })

	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")
	h.say(t, 1, "911-222-33")
	reply := h.say(t, 1, "/apply позже")

	assert.Equal(t, h.texts.LeadSent, reply.Text)
	require.Len(t, h.notifier.leads, 1)
	assert.Equal(t, "/apply позже", h.notifier.leads[0].Value(form.FieldComment))
}

func TestFreeTextGoesToAnswererOnce(t *testing.T) {
	h := newHarness(t, nil)
	reply := h.say(t, 1, "Где находится объект?")

	assert.Equal(t, "Объект в Калуге", reply.Text)
	assert.Equal(t, []string{"Где находится объект?"}, h.answerer.calls)
}

func TestAnswerFailureFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.answerer.err = errors.New("upstream 500")

	reply := h.say(t, 1, "Сколько стоит?")
	assert.Equal(t, h.texts.AnswerFallback, reply.Text)
	assert.Len(t, h.answerer.calls, 1)

	h.answerer.err, h.answerer.reply = nil, ""
	assert.Equal(t, h.texts.AnswerFallback, h.say(t, 1, "Сколько стоит?").Text)
}

func TestAnswerTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AnswerTimeout = 20 * time.Millisecond })
	h.answerer.block = true

	start := time.Now()
	reply := h.say(t, 1, "Сколько стоит?")
	assert.Equal(t, h.texts.AnswerFallback, reply.Text)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMenuCommands(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say(t, 1, "/start")
	assert.Equal(t, h.texts.Welcome, reply.Text)
	assert.True(t, reply.Menu)

	reply = h.say(t, 1, h.texts.BrochureLabel)
	assert.Equal(t, h.texts.DocumentsIntro, reply.Text)
	assert.Equal(t, []string{"a.pdf"}, reply.Documents)
	assert.Equal(t, h.texts.DocumentsFailed, reply.MediaFailed)

	reply = h.say(t, 1, "/photos")
	assert.Equal(t, []string{"1.jpg"}, reply.Photos)
	assert.Empty(t, reply.Text)

	assert.Empty(t, h.answerer.calls)
}

func TestMenuCommandsWithoutFiles(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Catalog = fakeCatalog{} })
	assert.Equal(t, h.texts.DocumentsNotFound, h.say(t, 1, h.texts.BrochureLabel).Text)
	assert.Equal(t, h.texts.PhotosNotFound, h.say(t, 1, h.texts.PhotosLabel).Text)

	h = newHarness(t, func(o *Options) { o.Catalog = fakeCatalog{err: errors.New("permission denied")} })
	assert.Equal(t, h.texts.DocumentsFailed, h.say(t, 1, h.texts.BrochureLabel).Text)
	assert.Equal(t, h.texts.PhotosFailed, h.say(t, 1, h.texts.PhotosLabel).Text)
}

func TestStartMidFormKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)
	h.say(t, 1, "Ivan Petrov")
	h.say(t, 1, "/start")

	sess, ok := h.session(t, 1)
	require.True(t, ok)
	assert.Equal(t, form.StateAwaitingPhone, sess.State)
}

func TestUsersDoNotShareSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, 1, h.texts.ApplyLabel)

	reply := h.say(t, 2, "Ivan Petrov")
	assert.Equal(t, "Объект в Калуге", reply.Text)
	_, ok := h.session(t, 2)
	assert.False(t, ok)

	sess, ok := h.session(t, 1)
	require.True(t, ok)
	assert.Empty(t, sess.Fields)
}

func TestUnknownStoredStateIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Put(context.Background(), &state.Session{UserID: 1, State: "awaiting_budget"}))

	_, err := h.router.Route(context.Background(), Turn{UserID: 1, Text: "100"})
	assert.Error(t, err)
	_, ok := h.session(t, 1)
	assert.False(t, ok)
}

type failingStore struct{ state.Store }

func (failingStore) Get(context.Context, int64) (*state.Session, bool, error) {
	return nil, false, errors.New("redis down")
}

func TestStoreFailureIsReturned(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = failingStore{state.NewMemoryStore()} })
	_, err := h.router.Route(context.Background(), Turn{UserID: 1, Text: "hi"})
	assert.ErrorContains(t, err, "redis down")
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestKeyboardAndRegistry(t *testing.T) {
	texts := DefaultTexts()
	assert.Equal(t, [][]string{{texts.BrochureLabel}, {texts.PhotosLabel}, {texts.ApplyLabel}}, texts.Keyboard())

	reg := NewRegistry(texts)
	name, _, ok := reg.LookupCommand(texts.PhotosLabel)
	require.True(t, ok)
	assert.Equal(t, CommandPhotos, name)
	assert.Len(t, reg.ListCommands(true), 4)
}
