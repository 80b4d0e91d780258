package socketmode

import (
	"strconv"

	"github.com/gorilla/websocket"
)

// closeStatus returns the name of a WebSocket close status code, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1 and
// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number,
// or its number if it's unrecognized.
func closeStatus(code int) string {
	switch code {
	case websocket.CloseNormalClosure:
		return "normal closure"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseProtocolError:
		return "protocol error"
	case websocket.CloseUnsupportedData:
		return "unsupported data"
	case websocket.CloseNoStatusReceived:
		return "status not received"
	case websocket.CloseAbnormalClosure:
		return "closed abnormally"
	case websocket.CloseInvalidFramePayloadData:
		return "invalid data"
	case websocket.ClosePolicyViolation:
		return "policy violation"
	case websocket.CloseMessageTooBig:
		return "message too big"
	case websocket.CloseMandatoryExtension:
		return "expected extension negotiation"
	case websocket.CloseInternalServerErr:
		return "internal error"
	case websocket.CloseServiceRestart:
		return "service restart"
	case websocket.CloseTryAgainLater:
		return "try again later"
	case 1014:
		return "bad gateway"
	case websocket.CloseTLSHandshake:
		return "TLS handshake"
	default:
		return strconv.Itoa(code)
	}
}
