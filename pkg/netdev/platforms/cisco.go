package platforms

import "github.com/sshcollectorpro/netdev/pkg/netdev"

// ciscoStyle IOS 系列共用的提示符与模式命令
func ciscoStyle(name string) netdev.VendorProfile {
	return netdev.VendorProfile{
		Name:                   name,
		PrivPromptTerminator:   "#",
		UnprivPromptTerminator: ">",
		PagingDisableCommand:   "terminal length 0",
		PrivilegeEnterCommand:  "enable",
		PrivilegeExitCommand:   "disable",
		ConfigEnterCommand:     "configure terminal",
		ConfigExitCommand:      "end",
		ConfigModeCheckToken:   ")#",
	}
}

// CiscoIOS Cisco IOS
func CiscoIOS() netdev.VendorProfile {
	p := ciscoStyle("cisco_ios")
	p.Paging = netdev.MultiCommandPaging{"terminal length 0", "terminal width 511"}
	return p
}

// CiscoIOSXE Cisco IOS-XE
func CiscoIOSXE() netdev.VendorProfile {
	p := ciscoStyle("cisco_iosxe")
	p.Paging = netdev.MultiCommandPaging{"terminal length 0", "terminal width 511"}
	return p
}

// CiscoIOSXR IOS-XR 没有独立的非特权级别，提示符形如 RP/0/RSP0/CPU0:router#
func CiscoIOSXR() netdev.VendorProfile {
	p := ciscoStyle("cisco_iosxr")
	p.PrivilegeEnterCommand = ""
	p.PrivilegeExitCommand = ""
	p.Paging = netdev.MultiCommandPaging{"terminal length 0", "terminal width 512"}
	return p
}

// CiscoNXOS NX-OS 登录即为特权级别
func CiscoNXOS() netdev.VendorProfile {
	p := ciscoStyle("cisco_nxos")
	p.PrivilegeEnterCommand = ""
	p.PrivilegeExitCommand = ""
	p.Paging = netdev.MultiCommandPaging{"terminal length 0", "terminal width 511"}
	return p
}

// CiscoASA ASA 使用 terminal pager 关闭分页
func CiscoASA() netdev.VendorProfile {
	p := ciscoStyle("cisco_asa")
	p.PagingDisableCommand = "terminal pager 0"
	p.PrivilegeExitCommand = "disable"
	return p
}

// AristaEOS Arista EOS
func AristaEOS() netdev.VendorProfile {
	p := ciscoStyle("arista_eos")
	p.Paging = netdev.MultiCommandPaging{"terminal length 0", "terminal width 32767"}
	return p
}

func init() {
	MustRegister(CiscoIOS(), "cisco", "ios", "cisco_xe_legacy")
	MustRegister(CiscoIOSXE(), "iosxe", "cisco_xe")
	MustRegister(CiscoIOSXR(), "iosxr", "cisco_xr")
	MustRegister(CiscoNXOS(), "nxos", "cisco_nexus")
	MustRegister(CiscoASA(), "asa")
	MustRegister(AristaEOS(), "arista", "eos")
}
