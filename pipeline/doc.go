// Package pipeline answers user messages under the message state machine.
//
// A user message moves pending -> processing -> completed or error. Answer
// claims the message with a conditional update before doing any work, so a
// live request and a background sweep can race on the same message and at
// most one assistant reply is stored. A caller that loses the claim either
// joins an in-flight answer (the reply insert is guarded) or returns the
// existing reply, or nil when there is none.
//
// Failures during retrieval or generation, including panics, are recorded on
// the user message and returned. No assistant message is stored for them.
package pipeline
