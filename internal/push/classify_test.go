package push

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClassifyCloseCodes(t *testing.T) {
	cases := []struct {
		name string
		code int
		want CloseClass
	}{
		{"normal closure", websocket.CloseNormalClosure, CloseNormal},
		{"policy violation", websocket.ClosePolicyViolation, CloseAuth},
		{"going away", websocket.CloseGoingAway, CloseTransient},
		{"abnormal closure", websocket.CloseAbnormalClosure, CloseTransient},
		{"service restart", websocket.CloseServiceRestart, CloseTransient},
		{"try again later", websocket.CloseTryAgainLater, CloseTransient},
		{"unsupported data", websocket.CloseUnsupportedData, CloseOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := &websocket.CloseError{Code: tc.code}
			if got := Classify(err); got != tc.want {
				t.Fatalf("Classify(%d) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestClassifyWrappedCloseError(t *testing.T) {
	err := errors.Join(errors.New("read failed"), &websocket.CloseError{Code: websocket.ClosePolicyViolation})
	if got := Classify(err); got != CloseAuth {
		t.Fatalf("Classify(wrapped) = %v, want CloseAuth", got)
	}
}

func TestClassifyPlainErrorIsOther(t *testing.T) {
	if got := Classify(errors.New("connection reset")); got != CloseOther {
		t.Fatalf("Classify(plain) = %v, want CloseOther", got)
	}
}

func TestClassifyHandshakeAuthStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		got := ClassifyHandshake(websocket.ErrBadHandshake, &http.Response{StatusCode: status})
		if got != CloseAuth {
			t.Fatalf("ClassifyHandshake(status %d) = %v, want CloseAuth", status, got)
		}
	}
	got := ClassifyHandshake(websocket.ErrBadHandshake, &http.Response{StatusCode: http.StatusBadGateway})
	if got != CloseOther {
		t.Fatalf("ClassifyHandshake(502) = %v, want CloseOther", got)
	}
}
