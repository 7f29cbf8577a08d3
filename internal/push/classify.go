package push

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// CloseClass buckets connection failures by how the manager should respond.
type CloseClass int

const (
	// CloseNormal is a deliberate shutdown; no reconnect.
	CloseNormal CloseClass = iota
	// CloseAuth means the credential was rejected; refresh before retrying.
	CloseAuth
	// CloseTransient covers restarts and abnormal drops; reconnect with backoff.
	CloseTransient
	// CloseOther is everything else; treated like a transient drop.
	CloseOther
)

func (c CloseClass) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseAuth:
		return "auth"
	case CloseTransient:
		return "transient"
	default:
		return "other"
	}
}

// Classify maps a read or dial error to a close class.
func Classify(err error) CloseClass {
	if err == nil {
		return CloseNormal
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure:
			return CloseNormal
		case websocket.ClosePolicyViolation:
			return CloseAuth
		case websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
			websocket.CloseServiceRestart,
			websocket.CloseTryAgainLater:
			return CloseTransient
		default:
			return CloseOther
		}
	}
	return CloseOther
}

// ClassifyHandshake maps a failed dial to a close class using the HTTP
// response, when the server rejected the upgrade outright.
func ClassifyHandshake(err error, resp *http.Response) CloseClass {
	if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return CloseAuth
		}
	}
	return Classify(err)
}
