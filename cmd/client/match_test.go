package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/inbucket/mailgate/pkg/rest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testSummaries() []*model.MessageSummaryV1 {
	return []*model.MessageSummaryV1{
		{
			ID:        3,
			Sender:    model.AddressV1{Name: "Alice", Address: "alice@example.org"},
			To:        []model.AddressV1{{Address: "me@example.com"}},
			Subject:   "Quarterly report",
			Timestamp: testNow.Add(-time.Minute),
		},
		{
			ID:        2,
			Sender:    model.AddressV1{Address: "bob@example.net"},
			To:        []model.AddressV1{{Address: "team@example.com"}, {Address: "me@example.com"}},
			Subject:   "Lunch?",
			Timestamp: testNow.Add(-2 * time.Hour),
		},
		{
			ID:            1,
			Sender:        model.AddressV1{Address: "noreply@example.org"},
			To:            []model.AddressV1{{Address: "team@example.com"}},
			Subject:       "Report ready",
			Timestamp:     testNow,
			DateSynthetic: true,
		},
	}
}

func ids(summaries []*model.MessageSummaryV1) []uint32 {
	out := make([]uint32, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}

func TestMatchFilter(t *testing.T) {
	tcs := map[string]struct {
		from, subject, to string
		maxAge            time.Duration
		want              []uint32
	}{
		"no criteria":       {want: []uint32{3, 2, 1}},
		"from":              {from: `@example\.org$`, want: []uint32{3, 1}},
		"from ignores name": {from: "Alice", want: []uint32{}},
		"subject":           {subject: "(?i)report", want: []uint32{3, 1}},
		"any to":            {to: "^me@", want: []uint32{3, 2}},
		"maxage":            {maxAge: time.Hour, want: []uint32{3}},
		"all criteria":      {from: "example", subject: "Lunch", to: "team", want: []uint32{2}},
		"none match":        {subject: "^nothing$", want: []uint32{}},
	}
	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			m := &matchCmd{maxAge: tc.maxAge, now: func() time.Time { return testNow }}
			require.NoError(t, m.from.Set(tc.from))
			require.NoError(t, m.subject.Set(tc.subject))
			require.NoError(t, m.to.Set(tc.to))

			assert.Equal(t, tc.want, ids(m.filter(testSummaries())))
		})
	}
}

func TestRegexFlag(t *testing.T) {
	var r regexFlag
	assert.False(t, r.Defined())
	assert.Equal(t, "", r.String())

	require.NoError(t, r.Set("^a+$"))
	assert.True(t, r.Defined())
	assert.Equal(t, "^a+$", r.String())

	require.NoError(t, r.Set(""))
	assert.False(t, r.Defined())

	assert.Error(t, r.Set("(unclosed"))
}

func TestOutputID(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, outputID(buf, testSummaries()))
	assert.Equal(t, "3\n2\n1\n", buf.String())
}

func TestOutputJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, outputJSON(buf, testSummaries()[:1]))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Quarterly report", got[0]["subject"])
	assert.Equal(t, "alice@example.org", got[0]["sender"].(map[string]any)["address"])
}

type fakeSources map[uint32]string

func (f fakeSources) GetMessageSource(_ context.Context, folder string, id uint32) (*bytes.Buffer, error) {
	src, ok := f[id]
	if !ok || folder != "inbox" {
		return nil, fmt.Errorf("no message %s/%d", folder, id)
	}
	return bytes.NewBufferString(src), nil
}

func TestOutputMbox(t *testing.T) {
	sources := fakeSources{
		3: "Subject: Quarterly report\r\n\r\nNumbers are up.\r\n",
		2: "Subject: Lunch?\r\n\r\nNoon?\r\n",
	}
	buf := &bytes.Buffer{}
	err := outputMbox(context.Background(), buf, sources, "inbox", testSummaries()[:2])
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "From alice@example.org "), "got %q", out)
	assert.Contains(t, out, "\nFrom bob@example.net ")
	assert.Contains(t, out, "Numbers are up.")
	assert.Contains(t, out, "Noon?")
}

func TestOutputMboxSourceError(t *testing.T) {
	err := outputMbox(context.Background(), &bytes.Buffer{}, fakeSources{}, "inbox", testSummaries()[:1])
	assert.ErrorContains(t, err, "get source REST failed")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a@x.org", "b@y.org"}, splitList(" a@x.org, ,b@y.org,"))
	assert.Nil(t, splitList(""))
}
