package netdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comwareProfile() VendorProfile {
	return VendorProfile{
		Name:                   "test_comware",
		PrivPromptTerminator:   "]",
		UnprivPromptTerminator: ">",
		PagingDisableCommand:   "screen-length disable",
		ConfigEnterCommand:     "system-view",
		ConfigExitCommand:      "return",
		ConfigModeCheckToken:   "]",
	}
}

func TestExtractBasePrompt(t *testing.T) {
	cases := []struct {
		line    string
		profile VendorProfile
		want    string
	}{
		{"R1#", testProfile(), "R1"},
		{"R1>", testProfile(), "R1"},
		{"R1(config)#", testProfile(), "R1"},
		{"  core-sw01# ", testProfile(), "core-sw01"},
		{"RP/0/RSP0/CPU0:xr1#", testProfile(), "RP/0/RSP0/CPU0:xr1"},
		{"<HZ-Core>", comwareProfile(), "HZ-Core"},
		{"[HZ-Core]", comwareProfile(), "HZ-Core"},
		{"路由器#", testProfile(), ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractBasePrompt(tc.line, tc.profile), tc.line)
	}
}

func TestBuildPattern_Cisco(t *testing.T) {
	p, err := BuildPattern("R1", testProfile())
	require.NoError(t, err)

	for _, line := range []string{"R1#", "R1>", "R1(config)#", "R1(config-if)#", "R1# "} {
		assert.True(t, p.MatchString(line), line)
	}
	for _, line := range []string{"R10#", "xR1#", "R1", "R1#show", "R1]"} {
		assert.False(t, p.MatchString(line), line)
	}
}

func TestBuildPattern_HostnameIsLiteral(t *testing.T) {
	p, err := BuildPattern("sw.lab+1", testProfile())
	require.NoError(t, err)
	assert.True(t, p.MatchString("sw.lab+1#"))
	assert.False(t, p.MatchString("swXlab+1#"))

	_, err = BuildPattern("", testProfile())
	assert.Error(t, err)
}

func TestParsePrompt_Depth(t *testing.T) {
	cisco, err := BuildPattern("R1", testProfile())
	require.NoError(t, err)
	comware, err := BuildPattern("HZ-Core", comwareProfile())
	require.NoError(t, err)

	cases := []struct {
		name  string
		line  string
		depth int
	}{
		{"cisco exec", "R1#", 0},
		{"cisco config", "R1(config)#", 0},
		{"cisco interface", "R1(config-if)#", 1},
		{"cisco range", "R1(config-if-range)#", 2},
		{"comware system view", "[HZ-Core]", 0},
		{"comware interface", "[HZ-Core-GigabitEthernet1/0/1]", 1},
		{"comware nested", "[HZ-Core-bgp-ipv4]", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pattern := cisco
			if tc.line[0] == '[' {
				pattern = comware
			}
			info, ok := parsePrompt(pattern, tc.line)
			require.True(t, ok)
			assert.Equal(t, tc.depth, info.Depth())
			assert.Equal(t, tc.line, info.Text)
		})
	}
}

func TestDiscover_ComwareUserView(t *testing.T) {
	d := newFakeDevice("unused", true)
	d.silentProbes = 100
	d.pending = []byte("\r\n******************\r\n* Copyright (c) *\r\n******************\r\n<HZ-Core>")

	line, base, err := NewPromptDetector(d, comwareProfile(), testTiming, nil).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<HZ-Core>", line)
	assert.Equal(t, "HZ-Core", base)
}
