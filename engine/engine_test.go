package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/assets"
	"github.com/creastat/craftbot/crafts"
	"github.com/creastat/craftbot/engine"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/session"
	"github.com/creastat/craftbot/session/drivers"
	"github.com/creastat/craftbot/testutil"
)

const (
	extractPattern  = `You identify reusable household materials`
	ideasPattern    = `Give exactly \d+ ideas`
	followUpPattern = `continuing a conversation`
)

type staticRelevance struct {
	related bool
	err     error
	calls   int
}

func (r *staticRelevance) IsCraftRelated(ctx context.Context, text string) (bool, error) {
	r.calls++
	return r.related, r.err
}

type staticTutorials struct {
	links []crafts.Link
	err   error
}

func (t staticTutorials) Links(ctx context.Context, batch []craftbot.Idea) ([]crafts.Link, error) {
	return t.links, t.err
}

type harness struct {
	engine    *engine.Engine
	store     session.Store
	assets    *assets.LocalStore
	completer *testutil.ScriptedCompleter
	images    *testutil.FakeImageGenerator
	relevance *staticRelevance
	clock     *testutil.Clock
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()
	clock := testutil.NewClock()
	store := drivers.NewInMemoryStore()
	local, err := assets.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	lifecycle := session.NewLifecycle(store,
		session.WithClock(clock.Now),
		session.WithAssetReclaimer(local),
	)
	completer := testutil.NewScriptedCompleter()
	images := testutil.NewFakeImageGenerator()
	relevance := &staticRelevance{related: true}

	base := []engine.Option{
		engine.WithImageGenerator(images),
		engine.WithAssetStore(local),
		engine.WithRelevance(relevance),
	}
	e := engine.New(lifecycle, generator.NewService(completer, time.Second, nil), append(base, opts...)...)

	return &harness{
		engine:    e,
		store:     store,
		assets:    local,
		completer: completer,
		images:    images,
		relevance: relevance,
		clock:     clock,
	}
}

// seed stores an active session holding four ideas.
func (h *harness) seed(t *testing.T, id string) *craftbot.Session {
	t.Helper()
	s := h.engine.Lifecycle().NewSession(id, "")
	s.Materials = []string{"glass bottle", "cardboard box"}
	s.LastIdeas = testutil.Ideas(4)
	require.NoError(t, h.store.Create(context.Background(), s))
	return s
}

func (h *harness) stored(t *testing.T, id string) *craftbot.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestAnalyze_NewSessionGeneratesRequestedCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("glass bottle", "cardboard box")).
		On(ideasPattern, testutil.IdeasJSON(10))

	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{
		SessionID: "sess-1",
		Text:      "I have a glass bottle and a cardboard box, give me 4 ideas",
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "extract_and_generate", res.Mode)
	assert.Equal(t, []string{"glass bottle", "cardboard box"}, res.Materials)
	require.Len(t, res.Ideas, 4)
	for _, idea := range res.Ideas {
		assert.NotEmpty(t, idea.ID)
	}
	assert.Equal(t, "Here are some ideas.", res.Narration)
	assert.Equal(t, 1, h.completer.CallCount(`Give exactly 4 ideas`))

	s := h.stored(t, "sess-1")
	assert.Equal(t, craftbot.StatusActive, s.Status)
	assert.Equal(t, int64(1), s.Version)
	assert.Len(t, s.LastIdeas, 4)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, craftbot.SenderUser, s.Messages[0].Sender)
	assert.Equal(t, craftbot.SenderAI, s.Messages[1].Sender)
	assert.Len(t, s.Messages[1].Output.Ideas, 4)
	assert.Equal(t, s.LastActivityAt.Add(session.DefaultIdleWindow), s.ExpiresAt)
	assert.Equal(t, "I have a glass bottle and a cardboard box, give me 4 ideas", s.Title)
}

func TestAnalyze_GeneratesSessionID(t *testing.T) {
	h := newHarness(t)
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("cork")).
		On(ideasPattern, testutil.IdeasJSON(3))

	res, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{Text: "corks"})
	require.NoError(t, err)
	assert.True(t, craftbot.ValidSessionID(res.SessionID))
	h.stored(t, res.SessionID)
}

func TestAnalyze_FollowUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("glass bottle", "cardboard box")).
		On(ideasPattern, testutil.IdeasJSON(4)).
		On(followUpPattern, `{"narration": "The second one is a box organizer."}`)

	_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{
		SessionID: "sess-1",
		Text:      "I have a glass bottle and a cardboard box, give me 4 ideas",
	})
	require.NoError(t, err)
	before := h.stored(t, "sess-1")

	h.clock.Advance(5 * time.Minute)
	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "more about the second one"})
	require.NoError(t, err)

	assert.Equal(t, "follow_up", res.Mode)
	assert.Empty(t, res.Ideas)
	assert.Equal(t, "The second one is a box organizer.", res.Narration)
	assert.Equal(t, 1, h.completer.CallCount(extractPattern))

	after := h.stored(t, "sess-1")
	assert.Equal(t, before.LastIdeas, after.LastIdeas)
	assert.Len(t, after.Messages, 4)
	assert.Equal(t, h.clock.Now(), after.LastActivityAt)
	assert.Equal(t, after.LastActivityAt.Add(session.DefaultIdleWindow), after.ExpiresAt)

	// The prompt carries the transcript and the current batch.
	calls := h.completer.Calls()
	last := calls[len(calls)-1]
	assert.Contains(t, last.Prompt, "USER: I have a glass bottle")
	assert.Contains(t, last.Prompt, "[idea_2]")
}

func TestAnalyze_RegenerationReplacesBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	h.completer.
		On(extractPattern, `{"materials": []}`).
		On(ideasPattern, testutil.IdeasJSON(3))

	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "show me different ideas"})
	require.NoError(t, err)
	assert.Equal(t, "extract_and_generate", res.Mode)
	assert.Len(t, res.Ideas, 3)
	// An empty extraction keeps the current materials.
	assert.Equal(t, []string{"glass bottle", "cardboard box"}, res.Materials)

	s := h.stored(t, "sess-1")
	require.Len(t, s.LastIdeas, 3)
	assert.Equal(t, "Idea 3", s.LastIdeas[2].Title)
	assert.Equal(t, 0, h.relevance.calls)
}

func TestAnalyze_OffTopicFirstTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.relevance.related = false
	h.completer.On(extractPattern, `{"materials": []}`)

	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "what's the weather tomorrow?"})
	require.NoError(t, err)

	assert.Equal(t, "off_topic", res.Mode)
	assert.Equal(t, engine.OffTopicGuidance, res.Narration)
	assert.Empty(t, res.Ideas)
	assert.Equal(t, 0, h.completer.CallCount(ideasPattern))
	assert.Equal(t, 1, h.relevance.calls)

	s, err := h.store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAnalyze_TopicalFirstTurnWithoutMaterials(t *testing.T) {
	h := newHarness(t)
	h.completer.
		On(extractPattern, `{"materials": []}`).
		On(ideasPattern, testutil.IdeasJSON(3))

	res, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "sess-1", Text: "I like origami"})
	require.NoError(t, err)
	assert.Equal(t, "extract_and_generate", res.Mode)
	assert.Len(t, res.Ideas, 3)
	assert.Equal(t, 1, h.relevance.calls)
}

func TestAnalyze_LaterTurnWithoutMaterialsSkipsTopicality(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completer.
		On(extractPattern, `{"materials": []}`).
		On(ideasPattern, testutil.IdeasJSON(3))

	first, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "I like origami"})
	require.NoError(t, err)
	require.Len(t, first.Ideas, 3)
	require.Empty(t, h.stored(t, "sess-1").Materials)

	// The relevance check would now reject the text, but it only guards first turns.
	h.relevance.related = false
	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "give me 3 more ideas"})
	require.NoError(t, err)

	assert.Equal(t, "extract_and_generate", res.Mode)
	assert.Len(t, res.Ideas, 3)
	assert.Equal(t, 1, h.relevance.calls)
	assert.Equal(t, 2, h.completer.CallCount(ideasPattern))
	assert.Len(t, h.stored(t, "sess-1").Messages, 4)
}

func TestAnalyze_RelevanceFailureFailsTurn(t *testing.T) {
	h := newHarness(t)
	h.relevance.err = errors.New("quota exceeded")
	h.completer.On(extractPattern, `{"materials": []}`)

	_, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "sess-1", Text: "hello"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestAnalyze_FailedGenerationCommitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seeded := h.seed(t, "sess-1")
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("tin can")).
		On(ideasPattern, "Sorry, I cannot help with that.")

	_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{
		SessionID: "sess-1",
		Text:      "give me new ideas",
		Image:     testutil.PNG(),
		ImageType: "image/png",
	})
	assert.ErrorIs(t, err, craftbot.ErrAIInvalidResponse)

	s := h.stored(t, "sess-1")
	assert.Equal(t, seeded.Version, s.Version)
	assert.Equal(t, seeded.Materials, s.Materials)
	assert.Equal(t, seeded.LastIdeas, s.LastIdeas)
	assert.Empty(t, s.Messages)
	assert.NoDirExists(t, filepath.Join(h.assets.Root(), "sess-1"))
}

func TestAnalyze_FailedGenerationCreatesNoSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completer.OnError(extractPattern, errors.New("upstream 500"))

	_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "two jars"})
	require.Error(t, err)

	s, err := h.store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAnalyze_ImageUploadStoresReference(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("egg carton")).
		On(ideasPattern, testutil.IdeasJSON(3))

	res, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{
		SessionID: "sess-1",
		Image:     testutil.PNG(),
		ImageType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"egg carton"}, res.Materials)

	s := h.stored(t, "sess-1")
	in := s.Messages[0].Input
	assert.Equal(t, craftbot.InputImage, in.Type)
	assert.True(t, strings.HasPrefix(in.ImageURL, assets.DefaultPublicPrefix+"/sess-1/"))

	data, err := os.ReadFile(filepath.Join(h.assets.Root(), "sess-1", filepath.Base(in.ImageURL)))
	require.NoError(t, err)
	assert.Equal(t, testutil.PNG(), data)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), testutil.PNGBase64()[:16])

	// The photo reached the model.
	assert.Equal(t, testutil.PNG(), h.completer.Calls()[0].Image)
}

func TestAnalyze_SpeechInput(t *testing.T) {
	h := newHarness(t)
	h.completer.
		On(extractPattern, testutil.MaterialsJSON("bottle caps")).
		On(ideasPattern, testutil.IdeasJSON(3))

	_, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "sess-1", Text: "bottle caps", Speech: true})
	require.NoError(t, err)
	assert.Equal(t, craftbot.InputAudio, h.stored(t, "sess-1").Messages[0].Input.Type)
}

func TestAnalyze_TutorialLinks(t *testing.T) {
	links := []crafts.Link{{IdeaID: "idea_1", URL: "https://youtu.be/a", Title: "Bottle lamp"}}

	tests := []struct {
		name      string
		tutorials staticTutorials
		want      []crafts.Link
	}{
		{"found", staticTutorials{links: links}, links},
		{"lookup failure", staticTutorials{err: errors.New("qdrant down")}, []crafts.Link{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, engine.WithTutorials(tt.tutorials))
			h.completer.
				On(extractPattern, testutil.MaterialsJSON("bottle")).
				On(ideasPattern, testutil.IdeasJSON(3))

			res, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "sess-1", Text: "a bottle"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.YouTubeLinks)
		})
	}
}

func TestAnalyze_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "sess-1", Text: "   "})
	assert.ErrorIs(t, err, craftbot.ErrValidation)

	_, err = h.engine.Analyze(context.Background(), engine.AnalyzeRequest{SessionID: "../etc", Text: "jars"})
	assert.ErrorIs(t, err, craftbot.ErrValidation)

	assert.Empty(t, h.completer.Calls())
}

func TestAnalyze_ExpiredSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	_, err := h.assets.Save(ctx, "sess-1", testutil.PNG(), "image/png")
	require.NoError(t, err)

	h.clock.Advance(session.DefaultIdleWindow + time.Second)

	s, err := h.engine.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, craftbot.StatusExpired, s.Status)
	assert.NoDirExists(t, filepath.Join(h.assets.Root(), "sess-1"))

	_, err = h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "more about the first one"})
	assert.ErrorIs(t, err, craftbot.ErrSessionInactive)
	assert.Empty(t, h.completer.Calls())
}

func TestAnalyze_LazyExpiryOnWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	h.clock.Advance(2 * session.DefaultIdleWindow)

	_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "tell me more"})
	assert.ErrorIs(t, err, craftbot.ErrSessionInactive)
	assert.Equal(t, craftbot.StatusExpired, h.stored(t, "sess-1").Status)
}

func TestAnalyze_MaxMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, engine.WithMaxMessages(4))
	h.seed(t, "sess-1")
	h.completer.On(followUpPattern, "Sure.")

	for i := 0; i < 3; i++ {
		_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
	}

	s := h.stored(t, "sess-1")
	require.Len(t, s.Messages, 4)
	assert.Equal(t, "question 1", s.Messages[0].Input.Text)
}

func TestAnalyze_MemoryWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, engine.WithMemoryWindow(2))
	h.seed(t, "sess-1")
	h.completer.On(followUpPattern, "Sure.")

	for i := 0; i < 3; i++ {
		_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
	}

	calls := h.completer.Calls()
	last := calls[len(calls)-1].Prompt
	assert.Contains(t, last, "USER: question 1")
	assert.NotContains(t, last, "USER: question 0")
}

func TestAnalyze_TokenBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, engine.WithTokenBudget(10))
	h.seed(t, "sess-1")
	h.completer.On(followUpPattern, "Sure.")

	_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: strings.Repeat("long question ", 10)})
	require.NoError(t, err)
	_, err = h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "short one"})
	require.NoError(t, err)

	// The long question alone is over budget; the latest exchange fits.
	calls := h.completer.Calls()
	last := calls[len(calls)-1].Prompt
	assert.NotContains(t, last, "USER: long question")
	assert.Contains(t, last, "AI: Sure.")

	// Without a budget the same history is sent whole.
	h = newHarness(t)
	h.seed(t, "sess-1")
	h.completer.On(followUpPattern, "Sure.")
	_, err = h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: strings.Repeat("long question ", 10)})
	require.NoError(t, err)
	_, err = h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "short one"})
	require.NoError(t, err)

	calls = h.completer.Calls()
	assert.Contains(t, calls[len(calls)-1].Prompt, "USER: long question")
}

func TestAnalyze_ConcurrentTurnsOnOneSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	h.completer.On(followUpPattern, "Sure.")

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: fmt.Sprintf("question %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s := h.stored(t, "sess-1")
	assert.Len(t, s.Messages, 2*n)
	assert.Equal(t, int64(n+1), s.Version)
}

func TestGenerateImage_ByOrdinal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")

	res, err := h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", Text: "draw the second one"})
	require.NoError(t, err)

	assert.Equal(t, "idea_2", res.IdeaID)
	assert.Equal(t, "Idea 2", res.Title)
	assert.Equal(t, "illustration of idea 2", res.PromptUsed)
	assert.Equal(t, []string{"illustration of idea 2"}, h.images.Prompts())
	assert.True(t, strings.HasPrefix(res.ImageURL, assets.DefaultPublicPrefix+"/sess-1/"))

	s := h.stored(t, "sess-1")
	assert.Equal(t, res.ImageURL, s.LastIdeas[1].GeneratedImageURL)
	assert.Empty(t, s.LastIdeas[0].GeneratedImageURL)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, res.ImageURL, s.Messages[1].Output.GeneratedImageURL)
	assert.Equal(t, "idea_2", s.Messages[1].Output.IdeaID)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), testutil.PNGBase64()[:16])
}

func TestGenerateImage_EncodedPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	h.images.Image = &generator.Image{Encoded: testutil.PNGBase64(), ContentType: "image/png"}

	res, err := h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_1"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.ImageURL, ".png"))

	data, err := os.ReadFile(filepath.Join(h.assets.Root(), "sess-1", filepath.Base(res.ImageURL)))
	require.NoError(t, err)
	assert.Equal(t, testutil.PNG(), data)
	assert.Equal(t, res.ImageURL, h.stored(t, "sess-1").LastIdeas[0].GeneratedImageURL)
}

func TestGenerateImage_UndecodablePayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seeded := h.seed(t, "sess-1")
	h.images.Image = &generator.Image{Encoded: "not base64 at all!!", ContentType: "image/png"}

	_, err := h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_1"})
	assert.ErrorIs(t, err, craftbot.ErrImageGenerationFailed)
	assert.ErrorIs(t, err, assets.ErrInvalidPayload)

	s := h.stored(t, "sess-1")
	assert.Equal(t, seeded.Version, s.Version)
	assert.NoDirExists(t, filepath.Join(h.assets.Root(), "sess-1"))
}

func TestGenerateImage_ByID(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sess-1")

	// The explicit id wins over the ordinal in text.
	res, err := h.engine.GenerateImage(context.Background(), engine.ImageRequest{
		SessionID: "sess-1",
		IdeaID:    "idea_4",
		Text:      "the first one please",
	})
	require.NoError(t, err)
	assert.Equal(t, "idea_4", res.IdeaID)
}

func TestGenerateImage_PromptFallback(t *testing.T) {
	tests := []struct {
		name       string
		req        engine.ImageRequest
		wantPrompt string
		wantIdea   string
	}{
		{
			name:       "caller prompt",
			req:        engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_99", ImagePrompt: "a red lamp"},
			wantPrompt: "a red lamp",
		},
		{
			name:       "free text",
			req:        engine.ImageRequest{SessionID: "sess-1", Text: "a lamp made of jars"},
			wantPrompt: "a lamp made of jars",
		},
		{
			name:       "caller prompt for resolved idea",
			req:        engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_1", ImagePrompt: "watercolor style"},
			wantPrompt: "watercolor style",
			wantIdea:   "idea_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, "sess-1")

			res, err := h.engine.GenerateImage(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrompt, res.PromptUsed)
			assert.Equal(t, tt.wantIdea, res.IdeaID)
		})
	}
}

func TestGenerateImage_PromptRequired(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sess-1")

	_, err := h.engine.GenerateImage(context.Background(), engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_99"})
	assert.ErrorIs(t, err, craftbot.ErrPromptRequired)
	assert.Empty(t, h.images.Prompts())
}

func TestGenerateImage_TruncatesPrompt(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sess-1")

	res, err := h.engine.GenerateImage(context.Background(), engine.ImageRequest{
		SessionID:   "sess-1",
		ImagePrompt: strings.Repeat("ä", 600),
	})
	require.NoError(t, err)
	assert.Len(t, []rune(res.PromptUsed), generator.MaxPromptLength)
}

func TestGenerateImage_FailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seeded := h.seed(t, "sess-1")
	h.images.SetError(&craftbot.ImageGenerationError{
		Kind:       craftbot.ImageFailureRateLimited,
		StatusCode: 429,
		Err:        errors.New("too many requests"),
	})

	_, err := h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_1"})
	assert.ErrorIs(t, err, craftbot.ErrImageGenerationFailed)

	var imgErr *craftbot.ImageGenerationError
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, craftbot.ImageFailureRateLimited, imgErr.Kind)

	s := h.stored(t, "sess-1")
	assert.Equal(t, seeded.Version, s.Version)
	assert.Empty(t, s.LastIdeas[0].GeneratedImageURL)
	assert.NoDirExists(t, filepath.Join(h.assets.Root(), "sess-1"))
}

func TestGenerateImage_SessionErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.GenerateImage(ctx, engine.ImageRequest{Text: "a lamp"})
	assert.ErrorIs(t, err, craftbot.ErrSessionRequired)

	_, err = h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "ghost", Text: "a lamp"})
	assert.ErrorIs(t, err, craftbot.ErrSessionNotFound)

	h.seed(t, "sess-1")
	_, err = h.engine.EndSession(ctx, "sess-1")
	require.NoError(t, err)
	_, err = h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", Text: "a lamp"})
	assert.ErrorIs(t, err, craftbot.ErrSessionInactive)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	_, err := h.engine.GenerateImage(ctx, engine.ImageRequest{SessionID: "sess-1", IdeaID: "idea_1"})
	require.NoError(t, err)

	s, err := h.engine.EndSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, craftbot.StatusEnded, s.Status)
	assert.NotNil(t, s.EndedAt)
	assert.NoDirExists(t, filepath.Join(h.assets.Root(), "sess-1"))

	_, err = h.engine.EndSession(ctx, "sess-1")
	assert.ErrorIs(t, err, craftbot.ErrSessionInactive)

	_, err = h.engine.Analyze(ctx, engine.AnalyzeRequest{SessionID: "sess-1", Text: "hello again"})
	assert.ErrorIs(t, err, craftbot.ErrSessionInactive)

	got, err := h.engine.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, craftbot.StatusEnded, got.Status)

	_, err = h.engine.EndSession(ctx, "ghost")
	assert.ErrorIs(t, err, craftbot.ErrSessionNotFound)
}

func TestGetSession_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.GetSession(context.Background(), "")
	assert.ErrorIs(t, err, craftbot.ErrSessionRequired)

	_, err = h.engine.GetSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, craftbot.ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "a")
	h.clock.Advance(time.Minute)
	h.seed(t, "b")
	_, err := h.engine.EndSession(ctx, "a")
	require.NoError(t, err)

	all, err := h.engine.ListSessions(ctx, session.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, 4, all[0].IdeaCount)

	ended, err := h.engine.ListSessions(ctx, session.ListOptions{Status: craftbot.StatusEnded})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "a", ended[0].ID)
}

func TestListSessions_OverdueListedAsExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "sess-1")
	h.clock.Advance(session.DefaultIdleWindow + time.Minute)

	all, err := h.engine.ListSessions(ctx, session.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, craftbot.StatusExpired, all[0].Status)

	active, err := h.engine.ListSessions(ctx, session.ListOptions{Status: craftbot.StatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	expired, err := h.engine.ListSessions(ctx, session.ListOptions{Status: craftbot.StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "sess-1", expired[0].ID)
}
