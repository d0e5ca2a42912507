package chat

import (
	"fmt"
	"strings"

	apperrors "chatroom/backend/pkg/errors"
)

// Step names a stage of a moderation workflow.
type Step string

const (
	StepResolveUser    Step = "resolve_user"
	StepDisconnect     Step = "disconnect_session"
	StepDeleteMessages Step = "delete_messages"
	StepDeleteUser     Step = "delete_user"
	StepRevokeSessions Step = "revoke_sessions"
	StepDeleteMessage  Step = "delete_message"
)

// ModerationWorkflowError reports a workflow that stopped part way. Steps in
// Completed stay applied; nothing is rolled back.
type ModerationWorkflowError struct {
	Action    string
	TargetID  string
	Completed []Step
	Failed    Step
	Err       error
}

func (e *ModerationWorkflowError) Error() string {
	done := make([]string, len(e.Completed))
	for i, s := range e.Completed {
		done[i] = string(s)
	}
	return fmt.Sprintf("%s %s failed at %s (completed: [%s]): %v",
		e.Action, e.TargetID, e.Failed, strings.Join(done, ", "), e.Err)
}

func (e *ModerationWorkflowError) Unwrap() error {
	return e.Err
}

// Code is the machine readable error code.
func (e *ModerationWorkflowError) Code() string {
	return apperrors.CodeModerationWorkflow
}
