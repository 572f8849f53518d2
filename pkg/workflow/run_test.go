package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echoflow/pkg/config"
	"echoflow/pkg/persona"
	"echoflow/pkg/session"
)

// fakeBackend stands in for the remote generation service. Chat replies are
// served from a queue; once the queue is empty a canned reply is returned.
type fakeBackend struct {
	mu         sync.Mutex
	replies    []string
	chatDown   bool
	personas   []persona.Persona
	noProfiles bool

	sessionIDs    []string
	prompts       []string
	profilesCalls int
}

func (b *fakeBackend) push(replies ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, replies...)
}

func (b *fakeBackend) setChatDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatDown = down
}

func (b *fakeBackend) seenSessionIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.sessionIDs...)
}

func (b *fakeBackend) lastPrompt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.prompts) == 0 {
		return ""
	}
	return b.prompts[len(b.prompts)-1]
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", b.handleChat)
	mux.HandleFunc("/chat/user-profiles/generate", b.handleProfiles)
	return mux
}

func (b *fakeBackend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.sessionIDs = append(b.sessionIDs, req.SessionID)
	b.prompts = append(b.prompts, req.Message)
	down := b.chatDown
	reply := "Entendido, contame un poco más."
	if len(b.replies) > 0 {
		reply = b.replies[0]
		b.replies = b.replies[1:]
	}
	b.mu.Unlock()

	if down {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"message":   reply,
		"sessionId": req.SessionID,
	})
}

func (b *fakeBackend) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	b.profilesCalls++
	noProfiles := b.noProfiles
	personas := b.personas
	b.mu.Unlock()

	if noProfiles {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "ok",
		"data":    personas,
	})
}

func newTestRun(t *testing.T, backend *fakeBackend) *Run {
	t.Helper()

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	cfg.Chat.MinExchanges = 2
	cfg.Chat.MaxQuestions = 2

	client := session.NewClient(srv.URL, cfg.RequestTimeoutDuration(), nil)
	wf, err := NewRun(cfg, client, nil, nil)
	require.NoError(t, err)
	return wf
}

// runChat drives the chat stage to completion: two exchanges, the second
// flagged final by the question cap.
func runChat(t *testing.T, wf *Run) {
	t.Helper()
	ctx := context.Background()

	reply, final, err := wf.Ask(ctx, "GastoClaro\nUna app para registrar gastos del hogar")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.False(t, final)

	_, final, err = wf.Ask(ctx, "Familias jóvenes con presupuesto ajustado")
	require.NoError(t, err)
	assert.True(t, final)
}

func TestRunStartsInChatWithGreeting(t *testing.T) {
	wf := newTestRun(t, &fakeBackend{})

	assert.Equal(t, StageChat, wf.Stage())
	assert.NotEmpty(t, wf.SessionID())

	msgs := wf.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)

	_, ok := wf.Product()
	assert.False(t, ok)
	_, ok = wf.Script()
	assert.False(t, ok)
}

func TestChatStageToPersonaSelection(t *testing.T) {
	backend := &fakeBackend{}
	backend.push("¿A quién está dirigida?", "¡Perfecto, tengo todo lo que necesito!")
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)

	info, err := wf.CompleteChat(ctx)
	require.NoError(t, err)
	assert.Equal(t, StagePersonaSelection, wf.Stage())
	assert.Equal(t, "GastoClaro", info.Name)
	assert.Equal(t, "Familias jóvenes con presupuesto ajustado", info.TargetMarket)

	got, ok := wf.Product()
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestCompleteChatGuard(t *testing.T) {
	wf := newTestRun(t, &fakeBackend{})
	ctx := context.Background()

	// No exchanges yet.
	_, err := wf.CompleteChat(ctx)
	assert.ErrorIs(t, err, ErrChatIncomplete)
	assert.Equal(t, StageChat, wf.Stage())

	// One exchange is below the minimum and not final.
	_, _, err = wf.Ask(ctx, "Una app de finanzas")
	require.NoError(t, err)
	_, err = wf.CompleteChat(ctx)
	assert.ErrorIs(t, err, ErrChatIncomplete)
	assert.Equal(t, StageChat, wf.Stage())
}

func TestAskRejectsEmptyAndWrongStage(t *testing.T) {
	wf := newTestRun(t, &fakeBackend{})
	ctx := context.Background()

	_, _, err := wf.Ask(ctx, "   ")
	assert.Error(t, err)

	runChat(t, wf)
	_, err = wf.CompleteChat(ctx)
	require.NoError(t, err)

	_, _, err = wf.Ask(ctx, "una más")
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestAskSurfacesBackendFailure(t *testing.T) {
	backend := &fakeBackend{}
	wf := newTestRun(t, backend)
	backend.setChatDown(true)

	before := wf.Messages()
	_, _, err := wf.Ask(context.Background(), "hola")
	assert.ErrorIs(t, err, session.ErrBackendUnavailable)

	// The failed exchange leaves no assistant reply behind.
	after := wf.Messages()
	assert.Equal(t, len(before)+1, len(after))
	assert.Equal(t, "user", after[len(after)-1].Role)
}

func TestPersonasFromBackend(t *testing.T) {
	backend := &fakeBackend{
		personas: []persona.Persona{
			{ID: "g1", Name: "Lucía", Age: 33, Occupation: "médica"},
			{ID: "g2", Name: "Tomás", Age: 21, Occupation: "estudiante"},
		},
	}
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	personas, err := wf.Personas(ctx)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "Lucía", personas[0].Name)

	// The generated set is fetched once and then cached.
	_, err = wf.Personas(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.profilesCalls)
}

func TestPersonasFallsBackToBuiltinCatalog(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	personas, err := wf.Personas(ctx)
	require.NoError(t, err)
	assert.Len(t, personas, 6, "built-in catalog stands when generation fails")
}

func TestPersonasWrongStage(t *testing.T) {
	wf := newTestRun(t, &fakeBackend{})
	_, err := wf.Personas(context.Background())
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestSelectPersonaCreatesInitialScript(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	backend.push("HOOK: ¿Sabías que...?\nDESARROLLO: ...\nCALL TO ACTION: descargala hoy.")
	scr, err := wf.SelectPersona(ctx, "3")
	require.NoError(t, err)

	assert.Equal(t, StageScriptEditing, wf.Stage())
	assert.Equal(t, 0, scr.Version)
	assert.False(t, scr.Locked)
	assert.Contains(t, scr.Text, "HOOK")

	selected, ok := wf.SelectedPersona()
	require.True(t, ok)
	assert.Equal(t, "Sofía", selected.Name)

	// The generation prompt carries product and persona context.
	last := backend.lastPrompt()
	assert.Contains(t, last, "GastoClaro")
	assert.Contains(t, last, "Sofía")
}

func TestSelectPersonaUnknownID(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	_, err = wf.SelectPersona(ctx, "99")
	assert.ErrorIs(t, err, persona.ErrUnknownPersona)
	assert.Equal(t, StagePersonaSelection, wf.Stage())
	_, ok := wf.Script()
	assert.False(t, ok)
}

func TestSelectPersonaGenerationFailureLeavesStage(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	backend.setChatDown(true)
	_, err = wf.SelectPersona(ctx, "1")
	assert.ErrorIs(t, err, session.ErrBackendUnavailable)
	assert.Equal(t, StagePersonaSelection, wf.Stage())
	_, ok := wf.SelectedPersona()
	assert.False(t, ok)

	// An empty draft is a rejection, not a script.
	backend.setChatDown(false)
	backend.push("   ")
	_, err = wf.SelectPersona(ctx, "1")
	assert.ErrorIs(t, err, session.ErrGenerationRejected)
	assert.Equal(t, StagePersonaSelection, wf.Stage())

	// Selection still works after the failures.
	backend.push("guión inicial")
	_, err = wf.SelectPersona(ctx, "1")
	assert.NoError(t, err)
}

// toEditing drives a run to the script-editing stage with an initial draft.
func toEditing(t *testing.T, backend *fakeBackend, wf *Run) {
	t.Helper()
	ctx := context.Background()

	runChat(t, wf)
	_, err := wf.CompleteChat(ctx)
	require.NoError(t, err)

	backend.push("guión inicial")
	_, err = wf.SelectPersona(ctx, "1")
	require.NoError(t, err)
}

func TestEditAndRegenerateScript(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()
	toEditing(t, backend, wf)

	require.NoError(t, wf.EditScript("guión pulido a mano"))
	scr, ok := wf.Script()
	require.True(t, ok)
	assert.Equal(t, "guión pulido a mano", scr.Text)
	assert.Equal(t, 0, scr.Version)

	backend.push("guión regenerado")
	text, err := wf.RegenerateScript(ctx)
	require.NoError(t, err)
	assert.Equal(t, "guión regenerado", text)

	scr, _ = wf.Script()
	assert.Equal(t, 1, scr.Version)
}

func TestFailedRegenerateKeepsScript(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()
	toEditing(t, backend, wf)

	require.NoError(t, wf.EditScript("versión que quiero conservar"))
	backend.setChatDown(true)

	_, err := wf.RegenerateScript(ctx)
	assert.ErrorIs(t, err, session.ErrBackendUnavailable)

	scr, ok := wf.Script()
	require.True(t, ok)
	assert.Equal(t, "versión que quiero conservar", scr.Text)
	assert.Equal(t, 0, scr.Version)
	assert.False(t, scr.Locked)
	assert.Equal(t, StageScriptEditing, wf.Stage())
}

func TestCommitPreviewAndBack(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()
	toEditing(t, backend, wf)

	scr, err := wf.CommitScript(ctx)
	require.NoError(t, err)
	assert.True(t, scr.Locked)
	assert.Equal(t, StagePreview, wf.Stage())

	// Nothing mutates in preview.
	assert.ErrorIs(t, wf.EditScript("tarde"), ErrWrongStage)
	_, err = wf.RegenerateScript(ctx)
	assert.ErrorIs(t, err, ErrWrongStage)

	require.NoError(t, wf.BackToScript(ctx))
	assert.Equal(t, StageScriptEditing, wf.Stage())

	scr, _ = wf.Script()
	assert.False(t, scr.Locked)
	assert.Equal(t, 0, scr.Version, "reopen reuses the version")

	require.NoError(t, wf.EditScript("versión final"))
	scr, err = wf.CommitScript(ctx)
	require.NoError(t, err)
	assert.True(t, scr.Locked)
	assert.Equal(t, "versión final", scr.Text)
}

func TestBackToScriptWrongStage(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	toEditing(t, backend, wf)

	assert.ErrorIs(t, wf.BackToScript(context.Background()), ErrWrongStage)
}

func TestSessionIDStableAcrossWholeRun(t *testing.T) {
	backend := &fakeBackend{noProfiles: true}
	wf := newTestRun(t, backend)
	ctx := context.Background()
	toEditing(t, backend, wf)

	backend.push("otro guión")
	_, err := wf.RegenerateScript(ctx)
	require.NoError(t, err)

	ids := backend.seenSessionIDs()
	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, wf.SessionID(), id)
	}
}
