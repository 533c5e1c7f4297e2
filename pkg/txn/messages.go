package txn

import (
	"errors"

	"github.com/microinsure/poolregistry/pkg/sentinel"
)

const (
	// RejectedMessage is shown when the user declined to sign.
	RejectedMessage = "Transaction rejected by user"
	unknownError    = "Unknown error"
)

// CreatePool and JoinPool are the actions offered to users.
var (
	CreatePool = Action{
		Name:           "create_pool",
		PendingMessage: "Creating insurance pool...",
		SuccessMessage: "Insurance pool created!",
		FailurePrefix:  "Creation failed: ",
	}
	JoinPool = Action{
		Name:           "join_pool",
		PendingMessage: "Joining pool...",
		SuccessMessage: "Successfully joined pool!",
		FailurePrefix:  "Join failed: ",
	}
)

// FailureMessage is the text shown for a failed action.
func FailureMessage(a Action, err error) string {
	if errors.Is(err, sentinel.ErrRejected) {
		return RejectedMessage
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = unknownError
	}
	return a.FailurePrefix + msg
}
