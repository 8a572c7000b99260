package platforms

import (
	"regexp"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

// vrpMarkers 华为/H3C 的分页提示 "  ---- More ----" 及其后的退格重绘
var vrpMarkers = regexp.MustCompile(`(?i)\s*-{2,}\s*more\s*-{2,}(\s*\([^)]*\))?`)

// HPComware H3C/HP Comware，用户视图 <R1>，系统视图 [R1]
func HPComware() netdev.VendorProfile {
	return netdev.VendorProfile{
		Name:                   "hp_comware",
		PrivPromptTerminator:   "]",
		UnprivPromptTerminator: ">",
		PagingDisableCommand:   "screen-length disable",
		ConfigEnterCommand:     "system-view",
		ConfigExitCommand:      "return",
		ConfigModeCheckToken:   "]",
		PagingMarkers:          vrpMarkers,
	}
}

// Huawei 华为 VRP
func Huawei() netdev.VendorProfile {
	return netdev.VendorProfile{
		Name:                   "huawei",
		PrivPromptTerminator:   "]",
		UnprivPromptTerminator: ">",
		PagingDisableCommand:   "screen-length 0 temporary",
		ConfigEnterCommand:     "system-view",
		ConfigExitCommand:      "return",
		ConfigModeCheckToken:   "]",
		PagingMarkers:          vrpMarkers,
	}
}

func init() {
	MustRegister(HPComware(), "h3c", "h3c_comware", "hp_comware7")
	MustRegister(Huawei(), "huawei_vrp", "huawei_s", "huawei_ce")
}
