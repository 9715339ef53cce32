package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, CodeOK},
		{fmt.Errorf("%w: write inbox: disk full", ErrStorage), CodeFile},
		{ErrStaleMapping, CodeFile},
		{fmt.Errorf("flock: %w", ErrLock), CodeLock},
		{ErrMailboxLocked, CodeLock},
		{ErrNoMessage, CodeParse},
		{ErrReadOnly, CodeReadOnly},
		{ErrMessageNotFound, CodeMsgNotFound},
		{fmt.Errorf("%w: %w", ErrMessageNotFound, ErrMessageDeleted), CodeMsgNotFound},
		{ErrInvalidUID, CodeInvalid},
		{ErrPathTraversal, CodeInvalid},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
