package mailerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{mailerr.ErrAuthentication, mailerr.KindAuthentication},
		{fmt.Errorf("select INBOX: %w", mailerr.ErrTransport), mailerr.KindTransport},
		{mailerr.Wrap(mailerr.ErrTimeout, errors.New("i/o timeout")), mailerr.KindTimeout},
		{mailerr.Validation("recipient %q", "bad"), mailerr.KindValidation},
		{mailerr.ErrAlreadyDeleted, mailerr.KindAlreadyDeleted},
		{errors.New("boom"), mailerr.KindInternal},
		{nil, mailerr.KindInternal},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, mailerr.Kind(tc.err))
		})
	}
}

func TestWrap(t *testing.T) {
	err := mailerr.Wrap(mailerr.ErrTransport, errors.New("connection reset"))
	assert.ErrorIs(t, err, mailerr.ErrTransport)
	assert.Equal(t, "transport failure: connection reset", err.Error())

	assert.Same(t, mailerr.ErrTimeout, mailerr.Wrap(mailerr.ErrTimeout, nil))
}
