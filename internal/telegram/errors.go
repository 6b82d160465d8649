package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// FaultKind is the provider error class the extraction engine dispatches on.
type FaultKind int

// FaultKind constants.
const (
	FaultOther       FaultKind = iota // anything not classified below
	FaultRateLimited                  // provider asked to wait Fault.Wait
	FaultNotFound                     // message or chat does not exist
	FaultPrivate                      // chat is private and not accessible with this session
	FaultNotMember                    // session user is not a member of the chat
	FaultDestination                  // destination chat cannot be written to
)

func (k FaultKind) String() string {
	switch k {
	case FaultRateLimited:
		return "rate_limited"
	case FaultNotFound:
		return "not_found"
	case FaultPrivate:
		return "private"
	case FaultNotMember:
		return "not_member"
	case FaultDestination:
		return "destination"
	default:
		return "other"
	}
}

// Fault is a classified provider error.
type Fault struct {
	Kind FaultKind
	Wait time.Duration // set for FaultRateLimited
	Err  error
}

func (f *Fault) Error() string {
	if f.Kind == FaultRateLimited {
		return fmt.Sprintf("rate limited for %s: %v", f.Wait, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err with an explicit kind.
func NewFault(kind FaultKind, err error) error {
	return &Fault{Kind: kind, Err: err}
}

// RateLimited returns a rate-limit fault carrying the required wait.
func RateLimited(wait time.Duration) error {
	return &Fault{Kind: FaultRateLimited, Wait: wait, Err: fmt.Errorf("FLOOD_WAIT_%d", int(wait.Seconds()))}
}

// rpc error types per class
var (
	notFoundTypes    = []string{"MESSAGE_ID_INVALID", "MSG_ID_INVALID", "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "PEER_ID_INVALID"}
	privateTypes     = []string{"CHANNEL_PRIVATE", "CHANNEL_INVALID", "CHAT_FORBIDDEN", "CHANNEL_PUBLIC_GROUP_NA"}
	notMemberTypes   = []string{"USER_NOT_PARTICIPANT", "INVITE_REQUEST_SENT"}
	destinationTypes = []string{"CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "CHAT_SEND_MEDIA_FORBIDDEN", "USER_IS_BLOCKED"}
)

// Classify maps err onto a Fault. A nil error classifies as FaultOther with nil Err.
func Classify(err error) Fault {
	if err == nil {
		return Fault{Kind: FaultOther}
	}

	var f *Fault
	if errors.As(err, &f) {
		return *f
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return Fault{Kind: FaultRateLimited, Wait: d, Err: err}
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.IsOneOf("SLOWMODE_WAIT") {
		return Fault{Kind: FaultRateLimited, Wait: time.Duration(rpcErr.Argument) * time.Second, Err: err}
	}
	if seconds := parseFloodWait(err); seconds > 0 {
		return Fault{Kind: FaultRateLimited, Wait: time.Duration(seconds) * time.Second, Err: err}
	}

	switch {
	case tgerr.Is(err, notFoundTypes...):
		return Fault{Kind: FaultNotFound, Err: err}
	case tgerr.Is(err, privateTypes...):
		return Fault{Kind: FaultPrivate, Err: err}
	case tgerr.Is(err, notMemberTypes...):
		return Fault{Kind: FaultNotMember, Err: err}
	case tgerr.Is(err, destinationTypes...):
		return Fault{Kind: FaultDestination, Err: err}
	}

	return Fault{Kind: FaultOther, Err: err}
}

// KindOf is shorthand for Classify(err).Kind.
func KindOf(err error) FaultKind {
	return Classify(err).Kind
}

// parseFloodWait finds FLOOD_WAIT_X in errors that lost their rpc type
// (for instance after being flattened to a string by a middleware).
func parseFloodWait(err error) int {
	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}
	var seconds int
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) > 1 {
		_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	}
	return seconds
}
