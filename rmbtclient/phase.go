// Package rmbtclient implements the client-side protocol engine of
// spec.md §4.5: one Connection per worker thread, mirroring the
// server's non-blocking phase state machine, plus the multi-thread
// barrier coordinator of spec.md §4.6.
//
// Grounded on core/concurrency/executor.go's stopCh/stoppedCh worker
// lifecycle (reused for the barrier-synchronized worker goroutines) and
// adapters/handler_adapter.go's named-step dispatch table idea, mirrored
// from the server side of rmbtserver.
package rmbtclient

type phase int

const (
	phaseSendUpgrade phase = iota
	phaseReadUpgradeAck
	phaseReadVersion
	phaseReadAcceptToken
	phaseSendToken
	phaseReadOK
	phaseReadChunksize
	phaseReadAcceptCommands
	phaseGreetingDone

	phaseCalibSendGetChunks
	phaseCalibRecvChunks
	phaseCalibSendOK
	phaseCalibReadTime
	phaseCalibDone

	phasePingSendPing
	phasePingReadPong
	phasePingSendOK
	phasePingReadTime
	phasePingDone

	phaseDownloadSendGetTime
	phaseDownloadRecvChunk
	phaseDownloadSendOK
	phaseDownloadReadTime
	phaseDownloadDone

	phaseUploadSendCommand
	phaseUploadReadOK
	phaseUploadSendChunk
	phaseUploadReadResult
	phaseUploadDone

	phaseSendQuit
	phaseReadBye
	phaseDone
)
