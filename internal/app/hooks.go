package app

import "github.com/1ureka/videoboard/internal/negotiation"

// Hooks let the user interface follow an Endpoint. All are optional. They
// may run on internal goroutines and must return quickly; they may call the
// Endpoint's methods from a new goroutine only.
type Hooks struct {
	OnSessionOpened func(remote, nonce string)
	OnSessionClosed func(remote, nonce, reason string)
	OnState         func(remote string, state negotiation.State)
	OnRemoteStream  func(remote, streamID string) // remote stream ready to render
	OnMediaError    func(err error)               // local media could not be attached

	OnCaption func(src, text string)
	OnReload  func(src string)
}
