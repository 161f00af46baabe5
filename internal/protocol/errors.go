package protocol

import "errors"

var (
	ErrBindFailed           = errors.New("protocol: bind failed")
	ErrListenFailed         = errors.New("protocol: listen failed")
	ErrAcceptTimeout        = errors.New("protocol: accept timeout")
	ErrAcceptFailed         = errors.New("protocol: accept failed")
	ErrConnectFailed        = errors.New("protocol: connect failed")
	ErrPeerClosed           = errors.New("protocol: peer closed connection")
	ErrConnectionClosed     = errors.New("protocol: connection closed")
	ErrIO                   = errors.New("protocol: io error")
	ErrTruncatedFrame       = errors.New("protocol: truncated frame")
	ErrUnsupportedValueType = errors.New("protocol: unsupported value type")
	ErrMalformedValueTree   = errors.New("protocol: malformed value tree")
	ErrAllocationFailure    = errors.New("protocol: allocation failure")
	ErrInvalidState         = errors.New("protocol: invalid session state")
	ErrInvalidLength        = errors.New("protocol: invalid length")
	ErrBarrierDesync        = errors.New("protocol: barrier desync")
	ErrUnsupportedVersion   = errors.New("protocol: unsupported version")
)
