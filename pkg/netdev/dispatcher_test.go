package netdev

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyDispatcher(t *testing.T, d *fakeDevice) *Dispatcher {
	t.Helper()
	disp := NewDispatcher(d, testProfile(), testTiming, nil)
	p, err := BuildPattern(d.hostname, testProfile())
	require.NoError(t, err)
	disp.SetPattern(p)
	return disp
}

func TestDispatcher_RequiresPattern(t *testing.T) {
	disp := NewDispatcher(newFakeDevice("R1", true), testProfile(), testTiming, nil)
	_, err := disp.Send(context.Background(), "show clock", SendOptions{})
	assert.Error(t, err)
}

func TestDispatcher_StripsPagingMarkers(t *testing.T) {
	d := newFakeDevice("R1", true)
	d.responses["show run"] = "hostname R1\n --More-- \ninterface Gi0/0"
	res, err := readyDispatcher(t, d).Send(context.Background(), "show run", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hostname R1\ninterface Gi0/0", res.Output)
}

func TestDispatcher_StripsPromptPrefixedEcho(t *testing.T) {
	d := newFakeDevice("R1", true)
	disp := readyDispatcher(t, d)
	d.echoPrefix = "R1#"
	d.responses["show users"] = "    Line  User"

	res, err := disp.Send(context.Background(), "show users", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "    Line  User", res.Output)
}

func TestDispatcher_ExpectPattern(t *testing.T) {
	d := newFakeDevice("R1", true)
	d.hang["copy run start"] = "Destination filename [startup-config]? "
	disp := readyDispatcher(t, d)

	res, err := disp.Send(context.Background(), "copy run start", SendOptions{ExpectPattern: regexp.MustCompile(`\[startup-config\]\?\s*$`)})
	require.NoError(t, err)
	assert.Equal(t, "Destination filename [startup-config]? ", res.Output)
	assert.Empty(t, res.Prompt)
}

func TestDispatcher_HiddenCommandMasked(t *testing.T) {
	d := newFakeDevice("R1", true)
	res, err := readyDispatcher(t, d).Send(context.Background(), "username admin secret x", SendOptions{Hidden: true})
	require.NoError(t, err)
	assert.Equal(t, "******", res.Command)
	assert.Empty(t, res.Output)
}

func TestDispatcher_DiscardsPendingOutput(t *testing.T) {
	d := newFakeDevice("R1", true)
	disp := readyDispatcher(t, d)
	d.pending = []byte("\r\nR1#\r\nR1#")
	d.responses["show clock"] = "10:00:00 UTC"

	res, err := disp.Send(context.Background(), "show clock", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10:00:00 UTC", res.Output)
}
