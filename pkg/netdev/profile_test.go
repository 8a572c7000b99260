package netdev

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVendorProfile_Validate(t *testing.T) {
	assert.NoError(t, testProfile().Validate())

	p := testProfile()
	p.UnprivPromptTerminator = ""
	assert.Error(t, p.Validate())

	p = testProfile()
	p.ConfigModeCheckToken = " "
	assert.Error(t, p.Validate())

	p = testProfile()
	p.PagingDisableCommand = ""
	assert.Error(t, p.Validate())
	p.Paging = NoPaging{}
	assert.NoError(t, p.Validate())
}

func TestVendorProfile_CustomPatternBuilder(t *testing.T) {
	p := testProfile()
	p.Pattern = PatternBuilderFunc(func(base string, _ VendorProfile) (*regexp.Regexp, error) {
		return regexp.Compile(`^` + regexp.QuoteMeta(base) + `[#>]$`)
	})
	re, err := BuildPattern("R1", p)
	assert.NoError(t, err)
	assert.False(t, re.MatchString("R1(config)#"))
	assert.True(t, re.MatchString("R1#"))
}

func TestMultiCommandPaging(t *testing.T) {
	d := newFakeDevice("R1", true)
	p := testProfile()
	p.Paging = MultiCommandPaging{"terminal length 0", "terminal width 511"}
	s, err := NewSession(d, p, Options{Timing: testTiming})
	assert.NoError(t, err)
	assert.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, 1, d.count("terminal length 0"))
	assert.Equal(t, 1, d.count("terminal width 511"))
}
