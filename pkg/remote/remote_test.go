package remote_test

import (
	"context"
	"strings"
	"testing"

	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/remote/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaller(t *testing.T) {
	_, err := remote.Caller(context.Background())
	assert.ErrorIs(t, err, mailerr.ErrAuthentication)

	id := account.New("alice@example.com", "hunter2")
	got, err := remote.Caller(account.NewContext(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestSubmitUsesContextAccount(t *testing.T) {
	server := mem.NewServer()
	server.AddAccount("alice@example.com", "hunter2")
	server.AddAccount("bob@example.com", "swordfish")
	submission := func() *remote.Submission {
		return &remote.Submission{
			From:       "alice@example.com",
			Recipients: []string{"bob@example.com"},
			Source:     strings.NewReader("Subject: hi\r\n\r\nhello\r\n"),
		}
	}

	err := server.Submit(context.Background(), submission())
	assert.ErrorIs(t, err, mailerr.ErrAuthentication)
	assert.Empty(t, server.Outbox())

	wrong := account.NewContext(context.Background(), account.New("alice@example.com", "guess"))
	err = server.Submit(wrong, submission())
	assert.ErrorIs(t, err, mailerr.ErrAuthentication)

	ctx := account.NewContext(context.Background(), account.New("alice@example.com", "hunter2"))
	require.NoError(t, server.Submit(ctx, submission()))
	require.Len(t, server.Outbox(), 1)
	assert.Equal(t, 1, server.Account("bob@example.com").Count("INBOX"))
}
