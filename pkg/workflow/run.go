package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"echoflow/pkg/config"
	"echoflow/pkg/eventlog"
	"echoflow/pkg/logx"
	"echoflow/pkg/metrics"
	"echoflow/pkg/persona"
	"echoflow/pkg/script"
	"echoflow/pkg/session"
	"echoflow/pkg/transcript"
	"echoflow/pkg/utils"
)

// greeting seeds the transcript; the backend is only consulted once the user
// has said something.
const greeting = "¡Hola! Soy tu asistente para crear contenido. Para empezar, cuéntame sobre tu marca o producto. ¿Cómo se llama y qué hace?"

// Run owns all state for one user's pass through the guided workflow:
// session, transcript, stage machine, persona catalog, and script controller.
// Runs are independent; nothing is shared between concurrent runs.
type Run struct {
	cfg     config.Config
	client  *session.Client
	log     *transcript.Transcript
	catalog *persona.Catalog
	scripts *script.Controller
	machine *Machine
	logger  *logx.Logger
	events  *eventlog.Writer
	rec     metrics.Recorder

	mu             sync.Mutex
	product        *ProductInfo
	selected       *persona.Persona
	lastReplyFinal bool
	refreshed      bool
}

// NewRun opens a session on the given client and assembles a fresh run.
// The client must not have been opened already; the run owns its identity.
func NewRun(cfg config.Config, client *session.Client, rec metrics.Recorder, events *eventlog.Writer) (*Run, error) {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}

	sess, err := client.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	logger := logx.NewLogger("run")

	counter, err := utils.NewTokenCounter()
	if err != nil {
		// Token accounting degrades to character estimation.
		logger.Warn("Tokenizer unavailable, using character estimation: %v", err)
		counter = nil
	}

	r := &Run{
		cfg:     cfg,
		client:  client,
		log:     transcript.New(counter, cfg.Transcript.MaxContextTokens),
		catalog: persona.NewCatalog(),
		machine: NewMachine(sess.ID, rec, events),
		logger:  logger,
		events:  events,
		rec:     rec,
	}
	r.scripts = script.NewController(r, rec, sess.ID)

	r.log.Append(transcript.RoleAssistant, greeting)
	return r, nil
}

// Stage returns the current workflow stage.
func (r *Run) Stage() Stage {
	return r.machine.Current()
}

// SessionID returns the stable identity of this run's backend session.
func (r *Run) SessionID() string {
	return r.client.SessionID()
}

// Messages returns the conversation transcript so far.
func (r *Run) Messages() []transcript.Message {
	return r.log.Messages()
}

// Ask sends the user's message to the backend and appends both sides of the
// exchange to the transcript. It reports whether the reply is final, i.e. the
// clarifying-question sequence is exhausted and the chat stage may complete.
func (r *Run) Ask(ctx context.Context, input string) (string, bool, error) {
	if stage := r.machine.Current(); stage != StageChat {
		return "", false, fmt.Errorf("%w: Ask requires %s, current stage is %s", ErrWrongStage, StageChat, stage)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", false, fmt.Errorf("message must not be empty")
	}

	if err := r.log.CheckBudget(input); err != nil {
		return "", false, err
	}

	userMsg := r.log.Append(transcript.RoleUser, input)
	r.audit(eventlog.KindMessage, fmt.Sprintf("user #%d", userMsg.Sequence))

	reply, err := r.client.Send(ctx, input)
	if err != nil {
		r.audit(eventlog.KindBackendError, err.Error())
		return "", false, err
	}

	assistantMsg := r.log.Append(transcript.RoleAssistant, reply)
	r.audit(eventlog.KindMessage, fmt.Sprintf("assistant #%d", assistantMsg.Sequence))

	final := r.log.ExchangeCount() >= r.cfg.Chat.MaxQuestions

	r.mu.Lock()
	r.lastReplyFinal = final
	r.mu.Unlock()

	return reply, final, nil
}

// CompleteChat finalizes the ProductInfo from the transcript and advances to
// persona selection. The guard requires the configured minimum number of
// exchanges and a final last reply; on guard failure nothing changes.
func (r *Run) CompleteChat(ctx context.Context) (ProductInfo, error) {
	if stage := r.machine.Current(); stage != StageChat {
		return ProductInfo{}, fmt.Errorf("%w: CompleteChat requires %s, current stage is %s", ErrWrongStage, StageChat, stage)
	}

	exchanges := r.log.ExchangeCount()
	r.mu.Lock()
	final := r.lastReplyFinal
	r.mu.Unlock()

	if exchanges < r.cfg.Chat.MinExchanges || !final {
		return ProductInfo{}, fmt.Errorf("%w: %d/%d exchanges, final=%t",
			ErrChatIncomplete, exchanges, r.cfg.Chat.MinExchanges, final)
	}

	info := extractProductInfo(r.log.UserMessages())

	if err := r.machine.TransitionTo(ctx, StagePersonaSelection); err != nil {
		return ProductInfo{}, err
	}

	r.mu.Lock()
	r.product = &info
	r.mu.Unlock()

	r.logger.Info("Product finalized: %s", info.Name)
	return info, nil
}

// Product returns the finalized ProductInfo, if the chat stage has completed.
func (r *Run) Product() (ProductInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.product == nil {
		return ProductInfo{}, false
	}
	return *r.product, true
}

// Personas returns the selectable persona catalog. On first call it asks the
// backend for a generated set; if the backend is unavailable the built-in
// catalog stands, so selection keeps working offline from the backend.
func (r *Run) Personas(ctx context.Context) ([]persona.Persona, error) {
	if stage := r.machine.Current(); stage != StagePersonaSelection {
		return nil, fmt.Errorf("%w: Personas requires %s, current stage is %s", ErrWrongStage, StagePersonaSelection, stage)
	}

	r.mu.Lock()
	refreshed := r.refreshed
	r.mu.Unlock()

	if !refreshed {
		generated, err := r.client.GeneratePersonas(ctx,
			r.cfg.Personas.Count, r.cfg.Personas.Platform, r.cfg.Personas.Tone)
		if err != nil {
			r.logger.Warn("Persona generation failed, using built-in catalog: %v", err)
			r.audit(eventlog.KindBackendError, err.Error())
		} else {
			r.catalog.Replace(generated)
			r.mu.Lock()
			r.refreshed = true
			r.mu.Unlock()
		}
	}

	return r.catalog.List(), nil
}

// SelectPersona picks a persona from the catalog, generates the initial
// script draft seeded with it, and advances to script editing. Selection is
// irreversible for the remainder of the run. On any failure the stage, the
// catalog, and the script are all left untouched.
func (r *Run) SelectPersona(ctx context.Context, id string) (script.Script, error) {
	if stage := r.machine.Current(); stage != StagePersonaSelection {
		return script.Script{}, fmt.Errorf("%w: SelectPersona requires %s, current stage is %s", ErrWrongStage, StagePersonaSelection, stage)
	}

	p, err := r.catalog.Lookup(id)
	if err != nil {
		return script.Script{}, err
	}

	draft, err := r.requestScript(ctx, p)
	if err != nil {
		return script.Script{}, err
	}

	scr, err := r.scripts.Create(draft)
	if err != nil {
		return script.Script{}, err
	}

	if err := r.machine.TransitionTo(ctx, StageScriptEditing); err != nil {
		return script.Script{}, err
	}

	r.mu.Lock()
	r.selected = &p
	r.mu.Unlock()

	r.logger.Info("Persona selected: %s (%s)", p.Name, p.ID)
	return scr, nil
}

// SelectedPersona returns the chosen persona, if one has been selected.
func (r *Run) SelectedPersona() (persona.Persona, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == nil {
		return persona.Persona{}, false
	}
	return *r.selected, true
}

// Script returns the current script, if created.
func (r *Run) Script() (script.Script, bool) {
	return r.scripts.Current()
}

// EditScript replaces the script text in place.
func (r *Run) EditScript(newText string) error {
	if stage := r.machine.Current(); stage != StageScriptEditing {
		return fmt.Errorf("%w: EditScript requires %s, current stage is %s", ErrWrongStage, StageScriptEditing, stage)
	}
	if err := r.scripts.Edit(newText); err != nil {
		return err
	}
	r.audit(eventlog.KindScriptRevision, "edit")
	return nil
}

// RegenerateScript requests a fresh draft and replaces the script on success.
func (r *Run) RegenerateScript(ctx context.Context) (string, error) {
	if stage := r.machine.Current(); stage != StageScriptEditing {
		return "", fmt.Errorf("%w: RegenerateScript requires %s, current stage is %s", ErrWrongStage, StageScriptEditing, stage)
	}
	text, err := r.scripts.Regenerate(ctx)
	if err != nil {
		return "", err
	}
	r.audit(eventlog.KindScriptRevision, "regenerate")
	return text, nil
}

// CommitScript locks the script and advances to preview.
func (r *Run) CommitScript(ctx context.Context) (script.Script, error) {
	if stage := r.machine.Current(); stage != StageScriptEditing {
		return script.Script{}, fmt.Errorf("%w: CommitScript requires %s, current stage is %s", ErrWrongStage, StageScriptEditing, stage)
	}

	scr, err := r.scripts.Commit()
	if err != nil {
		return script.Script{}, err
	}

	if err := r.machine.TransitionTo(ctx, StagePreview); err != nil {
		// Transition failed after the lock; release it so the script is not
		// stranded locked outside the preview stage.
		_ = r.scripts.Reopen()
		return script.Script{}, err
	}

	r.audit(eventlog.KindScriptRevision, "commit")
	return scr, nil
}

// BackToScript re-opens editing from the preview stage. The lock is cleared
// and the existing version is reused, not forked.
func (r *Run) BackToScript(ctx context.Context) error {
	if stage := r.machine.Current(); stage != StagePreview {
		return fmt.Errorf("%w: BackToScript requires %s, current stage is %s", ErrWrongStage, StagePreview, stage)
	}

	if err := r.machine.TransitionTo(ctx, StageScriptEditing); err != nil {
		return err
	}
	if err := r.scripts.Reopen(); err != nil {
		return err
	}
	r.audit(eventlog.KindScriptRevision, "reopen")
	return nil
}

// GenerateScript implements script.Generator: it asks the backend for a
// script draft seeded with the committed product and the selected persona,
// under the same session so the backend retains conversational context.
func (r *Run) GenerateScript(ctx context.Context) (string, error) {
	r.mu.Lock()
	selected := r.selected
	r.mu.Unlock()

	if selected == nil {
		return "", fmt.Errorf("no persona selected")
	}
	return r.requestScript(ctx, *selected)
}

// requestScript asks the chat endpoint for a script draft for persona p.
func (r *Run) requestScript(ctx context.Context, p persona.Persona) (string, error) {
	product, ok := r.Product()
	if !ok {
		return "", fmt.Errorf("product info not finalized")
	}

	reply, err := r.client.Send(ctx, scriptPrompt(product, p))
	if err != nil {
		r.audit(eventlog.KindBackendError, err.Error())
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: backend returned an empty script", session.ErrGenerationRejected)
	}
	return reply, nil
}

// scriptPrompt builds the generation instruction with the hook/development/
// call-to-action framing the product content uses.
func scriptPrompt(info ProductInfo, p persona.Persona) string {
	var b strings.Builder
	b.WriteString("Generá un guión corto de video para el producto \"")
	b.WriteString(info.Name)
	b.WriteString("\" (")
	b.WriteString(info.Description)
	b.WriteString("), dirigido a: ")
	b.WriteString(info.TargetMarket)
	b.WriteString(".\n")
	if len(info.Features) > 0 {
		b.WriteString("Características a destacar: ")
		b.WriteString(strings.Join(info.Features, ", "))
		b.WriteString(".\n")
	}
	fmt.Fprintf(&b, "Narrado por la persona %s, %d años, %s. Contexto: %s Estilo de contenido: %s\n",
		p.Name, p.Age, p.Occupation, p.LifeContext, p.ContentNotes)
	b.WriteString("Estructura: HOOK (0-3s), DESARROLLO (3-12s), CALL TO ACTION (12-15s), más elementos visuales y hashtags sugeridos.")
	return b.String()
}

func (r *Run) audit(kind, detail string) {
	if r.events == nil {
		return
	}
	stage := r.machine.Current().String()
	if err := r.events.Append(r.SessionID(), kind, stage, detail); err != nil {
		r.logger.Warn("Failed to record %s event: %v", kind, err)
	}
}
