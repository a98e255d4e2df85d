package peer

import "errors"

var (
	ErrClosed           = errors.New("peer: session closed")
	ErrUnexpectedOffer  = errors.New("peer: offer not expected in current state")
	ErrUnexpectedAnswer = errors.New("peer: answer not expected in current state")
	ErrWrongRole        = errors.New("peer: operation not valid for role")
	ErrNoVideoSender    = errors.New("peer: no outgoing video track")
)
