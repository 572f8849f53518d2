// Package script manages the lifecycle of the working script text: initial
// draft, in-place edits, full regeneration, and the one-way lock on commit.
//
// The Controller is the only component permitted to mutate the Script. A
// failed regeneration never touches the existing text; the operation is
// all-or-nothing.
package script

import (
	"context"
	"errors"
	"strings"
	"sync"

	"echoflow/pkg/logx"
	"echoflow/pkg/metrics"
)

var (
	// ErrScriptLocked indicates a mutation was attempted on a locked script.
	// Stage gating should prevent this; the controller refuses it anyway.
	ErrScriptLocked = errors.New("script is locked")

	// ErrEmptyScript indicates a commit of empty or whitespace-only text.
	ErrEmptyScript = errors.New("script is empty")

	// ErrNoScript indicates an operation before Create.
	ErrNoScript = errors.New("no script created")

	// ErrScriptExists indicates a second Create in the same run.
	ErrScriptExists = errors.New("script already created")
)

// Script is the generated/edited text artifact carried from persona selection
// through preview.
type Script struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
	Locked  bool   `json:"locked"`
}

// Generator produces a fresh script draft. Implemented by the workflow layer
// on top of the session client, seeded with the committed product and persona
// context.
type Generator interface {
	GenerateScript(ctx context.Context) (string, error)
}

// Controller owns the Script entity for one run.
type Controller struct {
	mu        sync.Mutex
	script    *Script
	gen       Generator
	logger    *logx.Logger
	rec       metrics.Recorder
	sessionID string
}

// NewController creates a controller bound to the given generator.
func NewController(gen Generator, rec metrics.Recorder, sessionID string) *Controller {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Controller{
		gen:       gen,
		logger:    logx.NewLogger("script"),
		rec:       rec,
		sessionID: sessionID,
	}
}

// Create seeds the script with its initial draft. Version 0, unlocked.
// Called once per run; a second call fails with ErrScriptExists.
func (c *Controller) Create(initial string) (Script, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script != nil {
		return Script{}, ErrScriptExists
	}

	c.script = &Script{Text: initial, Version: 0, Locked: false}
	c.logger.Info("Script created (version 0, %d chars)", len(initial))
	return *c.script, nil
}

// Edit replaces the text in place. The version does not change.
func (c *Controller) Edit(newText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script == nil {
		return ErrNoScript
	}
	if c.script.Locked {
		c.rec.IncScriptRevision(c.sessionID, "edit", "locked")
		return ErrScriptLocked
	}

	c.script.Text = newText
	c.rec.IncScriptRevision(c.sessionID, "edit", "success")
	return nil
}

// Regenerate requests a fresh draft from the generator and, on success,
// replaces the text and increments the version. On failure the existing
// script is left untouched and the error is surfaced.
func (c *Controller) Regenerate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.script == nil {
		c.mu.Unlock()
		return "", ErrNoScript
	}
	if c.script.Locked {
		c.mu.Unlock()
		c.rec.IncScriptRevision(c.sessionID, "regenerate", "locked")
		return "", ErrScriptLocked
	}
	c.mu.Unlock()

	// The remote call happens outside the lock; user interaction serializes
	// operations on one script, and a concurrent Edit must not deadlock.
	text, err := c.gen.GenerateScript(ctx)
	if err != nil {
		c.rec.IncScriptRevision(c.sessionID, "regenerate", "error")
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script.Locked {
		// Locked while the call was outstanding; discard the result.
		c.rec.IncScriptRevision(c.sessionID, "regenerate", "locked")
		return "", ErrScriptLocked
	}

	c.script.Text = text
	c.script.Version++
	c.rec.IncScriptRevision(c.sessionID, "regenerate", "success")
	c.logger.Info("Script regenerated (version %d)", c.script.Version)
	return text, nil
}

// Commit locks the script. Committing an already locked script is a no-op
// returning the locked script; committing empty or whitespace-only text fails
// with ErrEmptyScript.
func (c *Controller) Commit() (Script, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script == nil {
		return Script{}, ErrNoScript
	}
	if c.script.Locked {
		return *c.script, nil
	}
	if strings.TrimSpace(c.script.Text) == "" {
		c.rec.IncScriptRevision(c.sessionID, "commit", "empty")
		return Script{}, ErrEmptyScript
	}

	c.script.Locked = true
	c.rec.IncScriptRevision(c.sessionID, "commit", "success")
	c.logger.Info("Script committed (version %d)", c.script.Version)
	return *c.script, nil
}

// Reopen clears the lock so editing can continue. The version is reused, not
// forked; a later Regenerate still increments it.
func (c *Controller) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script == nil {
		return ErrNoScript
	}

	c.script.Locked = false
	c.rec.IncScriptRevision(c.sessionID, "reopen", "success")
	return nil
}

// Current returns a copy of the script, or false before Create.
func (c *Controller) Current() (Script, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script == nil {
		return Script{}, false
	}
	return *c.script, true
}
