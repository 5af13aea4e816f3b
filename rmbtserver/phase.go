// Package rmbtserver implements the server-side protocol engine of
// spec.md §4.4: one Connection per accepted socket, driven entirely by
// non-blocking I/O through a reactor.Handle, plus the accept loop and
// worker pool of spec.md §5.
//
// Grounded on adapters/handler_adapter.go's named-step dispatch table
// idea (here keyed by a Phase enum rather than an HTTP verb) and
// core/concurrency/executor.go's worker lifecycle, generalized from
// "one callback per connection-event" to a full cooperative state
// machine per spec.md §9 ("tagged Phase enum plus a dispatch table
// mapping each phase to a step function").
package rmbtserver

// phase tags every step in the server's state machine, spec.md §4.4.
type phase int

const (
	phaseGreetingReadRequest phase = iota
	phaseGreetingWriteUpgrade
	phaseGreetingWriteVersion
	phaseGreetingWriteAcceptToken
	phaseGreetingReadToken
	phaseGreetingWriteOK
	phaseGreetingWriteChunksize
	phaseAcceptWriteCommands
	phaseAcceptReadCommand

	phaseGetChunksSendChunk
	phaseGetChunksAwaitOK
	phaseGetChunksSendTime

	phaseGetTimeSendChunk
	phaseGetTimeAwaitOK
	phaseGetTimeSendTime

	phasePingSendPong
	phasePingAwaitOK
	phasePingSendTime

	phasePutSendOK
	phasePutRecvChunk
	phasePutSendIntermediateTime
	phasePutSendFinalTime

	phasePutNoResultSendOK
	phasePutNoResultRecvChunk
	phasePutNoResultSendTime

	phasePutTimeResultSendOK
	phasePutTimeResultRecvChunk
	phasePutTimeResultSendResult

	phaseQuitSendBye

	phaseErrSendAndContinue

	phaseDone
)
