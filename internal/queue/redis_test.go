package queue

import (
	"errors"
	"testing"
)

func TestIsBusyGroupErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("BUSYGROUP Consumer Group name already exists"), true},
		{errors.New("busygroup consumer group name already exists"), true},
		{errors.New("NOGROUP No such consumer group"), false},
		{errors.New("connection refused"), false},
	}
	for _, c := range cases {
		if got := isBusyGroupErr(c.err); got != c.want {
			t.Errorf("isBusyGroupErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
