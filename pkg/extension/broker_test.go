package extension_test

import (
	"testing"

	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerEmitCallsListenersInOrder(t *testing.T) {
	broker := &extension.EventBroker[event.OutboundMessage, event.PolicyResponse]{}

	var calls []string
	listener := func(name string) func(event.OutboundMessage) *event.PolicyResponse {
		return func(msg event.OutboundMessage) *event.PolicyResponse {
			calls = append(calls, name+":"+msg.Subject)
			return nil
		}
	}
	broker.AddListener("a", listener("a"))
	broker.AddListener("b", listener("b"))

	got := broker.Emit(&event.OutboundMessage{Subject: "hi"})
	assert.Nil(t, got)
	assert.Equal(t, []string{"a:hi", "b:hi"}, calls)
}

func TestBrokerEmitReturnsFirstResult(t *testing.T) {
	broker := &extension.EventBroker[event.OutboundMessage, event.PolicyResponse]{}
	respond := func(r *event.PolicyResponse) func(event.OutboundMessage) *event.PolicyResponse {
		return func(event.OutboundMessage) *event.PolicyResponse { return r }
	}
	deny := &event.PolicyResponse{Action: event.ActionDeny, Reason: "first"}
	broker.AddListener("0", respond(nil))
	broker.AddListener("1", respond(deny))
	broker.AddListener("2", respond(&event.PolicyResponse{Action: event.ActionAllow}))

	got := broker.Emit(&event.OutboundMessage{})
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Reason)
}

func TestBrokerListenerCannotMutateEvent(t *testing.T) {
	broker := &extension.EventBroker[event.OutboundMessage, event.PolicyResponse]{}
	broker.AddListener("mutator", func(msg event.OutboundMessage) *event.PolicyResponse {
		msg.Subject = "changed"
		return nil
	})
	msg := &event.OutboundMessage{Subject: "original"}
	broker.Emit(msg)
	assert.Equal(t, "original", msg.Subject)
}

func TestBrokerDuplicateNameReplacesPrevious(t *testing.T) {
	broker := &extension.EventBroker[string, bool]{}

	var first, second string
	broker.AddListener("dup", func(s string) *bool { first = s; return nil })
	broker.AddListener("dup", func(s string) *bool { second = s; return nil })

	want := "hi"
	broker.Emit(&want)
	assert.Empty(t, first)
	assert.Equal(t, want, second)
}

func TestBrokerRemoveListener(t *testing.T) {
	broker := &extension.EventBroker[string, bool]{}

	var first, second string
	broker.AddListener("1", func(s string) *bool { first = s; return nil })
	broker.AddListener("2", func(s string) *bool { second = s; return nil })
	broker.RemoveListener("1")
	broker.RemoveListener("doesn't crash")

	want := "hi"
	broker.Emit(&want)
	assert.Empty(t, first)
	assert.Equal(t, want, second)
}
