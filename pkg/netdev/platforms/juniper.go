package platforms

import "github.com/sshcollectorpro/netdev/pkg/netdev"

// JuniperJunos 操作模式 user@host>，配置模式 user@host#
func JuniperJunos() netdev.VendorProfile {
	return netdev.VendorProfile{
		Name:                   "juniper_junos",
		PrivPromptTerminator:   "#",
		UnprivPromptTerminator: ">",
		Paging:                 netdev.MultiCommandPaging{"set cli screen-length 0", "set cli screen-width 511"},
		PagingDisableCommand:   "set cli screen-length 0",
		ConfigEnterCommand:     "configure",
		ConfigExitCommand:      "exit configuration-mode",
		ConfigModeCheckToken:   "#",
	}
}

func init() {
	MustRegister(JuniperJunos(), "juniper", "junos")
}
