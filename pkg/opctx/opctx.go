// Package opctx carries the ambient identity and cancellation scope that
// every orchestration operation (step execution, chat-bridge call,
// validation, evaluation) needs threaded through it, the way
// agent.ExecutionContext does for a single agent run in the teacher
// codebase — generalized here to cover any operation, not just an agent
// iteration.
package opctx

import "context"

// Context is the first parameter of every exported orchestration
// operation. It is not a context.Context itself (it wraps one) because
// it also carries identity fields that are not cancellation-scoped but
// do need to travel with the call for logging and persistence.
type Context struct {
	std context.Context

	// TaskID identifies the TaskExecution this operation belongs to.
	TaskID string

	// ThreadID scopes a single step/ReAct conversation within a task —
	// distinct sub-loops within one step get distinct thread ids so
	// their logs interleave without ambiguity.
	ThreadID string

	// OperationID, if set, names a specific sub-operation (e.g. a tool
	// call id) nested within ThreadID.
	OperationID string

	// AgentName and AgentRole identify which configured agent is
	// executing this operation, for logging and model-selection.
	AgentName string
	AgentRole string
}

// New wraps std with the given task/thread identity.
func New(std context.Context, taskID, threadID string) Context {
	return Context{std: std, TaskID: taskID, ThreadID: threadID}
}

// WithAgent returns a copy of c scoped to the given agent identity.
func (c Context) WithAgent(name, role string) Context {
	c.AgentName = name
	c.AgentRole = role
	return c
}

// WithOperation returns a copy of c scoped to a nested operation id.
func (c Context) WithOperation(operationID string) Context {
	c.OperationID = operationID
	return c
}

// Std returns the underlying cancellation/deadline context.Context.
func (c Context) Std() context.Context {
	if c.std == nil {
		return context.Background()
	}
	return c.std
}

// Done, Err delegate to the underlying context for convenience at call
// sites that only need to observe cancellation.
func (c Context) Done() <-chan struct{} { return c.Std().Done() }
func (c Context) Err() error             { return c.Std().Err() }
