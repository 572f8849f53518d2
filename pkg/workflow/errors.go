package workflow

import "errors"

var (
	// ErrInvalidTransition indicates an attempt to move between stages the
	// transition table does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrWrongStage indicates an operation invoked outside the stage that
	// owns it. The workflow state is left unchanged.
	ErrWrongStage = errors.New("operation not allowed in current stage")

	// ErrChatIncomplete indicates the information-gathering guard failed:
	// too few exchanges, or the last assistant reply was not final.
	ErrChatIncomplete = errors.New("information gathering not complete")
)
