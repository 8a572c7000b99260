package netdev

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeDevice 实现 Channel 的脚本化类 Cisco 命令行
// 写入立即应答；读取先取待读数据，否则等满读取窗口
type fakeDevice struct {
	mu sync.Mutex

	hostname string
	priv     bool
	cfgCtx   string
	secret   string

	awaitSecret  bool
	responses    map[string]string
	hang         map[string]string
	ignoreConfig bool
	silentProbes int
	chunk        int
	// echoPrefix 回显命令前附加的内容，模拟重绘提示符的设备
	echoPrefix string

	pending    []byte
	writes     []string
	closed     bool
	failWrites error
}

func newFakeDevice(hostname string, priv bool) *fakeDevice {
	return &fakeDevice{
		hostname:  hostname,
		priv:      priv,
		responses: map[string]string{},
		hang:      map[string]string{},
	}
}

func (d *fakeDevice) prompt() string {
	switch {
	case d.cfgCtx != "":
		return d.hostname + "(" + d.cfgCtx + ")#"
	case d.priv:
		return d.hostname + "#"
	default:
		return d.hostname + ">"
	}
}

func (d *fakeDevice) emit(s string) { d.pending = append(d.pending, s...) }

func (d *fakeDevice) Write(_ context.Context, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return io.ErrClosedPipe
	}
	if d.failWrites != nil {
		return d.failWrites
	}
	line := strings.TrimRight(string(p), "\r\n")
	d.writes = append(d.writes, line)
	d.respond(line)
	return nil
}

func (d *fakeDevice) respond(line string) {
	if d.awaitSecret {
		d.awaitSecret = false
		if line == d.secret {
			d.priv = true
			d.emit("\r\n" + d.prompt())
		} else {
			d.emit("\r\n% Access denied\r\n\r\n" + d.prompt())
		}
		return
	}
	if line == "" {
		if d.silentProbes > 0 {
			d.silentProbes--
			return
		}
		d.emit("\r\n" + d.prompt())
		return
	}
	echo := d.echoPrefix + line + "\r\n"
	switch {
	case line == "enable":
		if d.secret != "" && !d.priv {
			d.awaitSecret = true
			d.emit(echo + "Password: ")
			return
		}
		d.priv = true
	case line == "disable":
		d.priv, d.cfgCtx = false, ""
	case line == "configure terminal":
		if d.priv && !d.ignoreConfig {
			d.cfgCtx = "config"
		}
	case strings.HasPrefix(line, "interface range ") && d.cfgCtx != "":
		d.cfgCtx = "config-if-range"
	case strings.HasPrefix(line, "interface ") && d.cfgCtx != "":
		d.cfgCtx = "config-if"
	case line == "end":
		d.cfgCtx = ""
	case d.hang[line] != "":
		d.emit(echo + d.hang[line])
		return
	default:
		if out, ok := d.responses[line]; ok {
			echo += strings.ReplaceAll(out, "\n", "\r\n") + "\r\n"
		}
	}
	d.emit(echo + d.prompt())
}

func (d *fakeDevice) ReadWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	if len(d.pending) > 0 {
		n := len(d.pending)
		if d.chunk > 0 && n > d.chunk {
			n = d.chunk
		}
		out := append([]byte(nil), d.pending[:n]...)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, ErrReadTimeout
	}
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}

func (d *fakeDevice) count(cmd string) int {
	n := 0
	for _, w := range d.written() {
		if w == cmd {
			n++
		}
	}
	return n
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var testTiming = Timing{
	ReadWindow:      2 * time.Millisecond,
	IdleWindows:     5,
	CommandTimeout:  2 * time.Second,
	DiscoverRetries: 3,
	DiscoverTimeout: 50 * time.Millisecond,
	MaxConfigDepth:  4,
}

func testProfile() VendorProfile {
	return VendorProfile{
		Name:                   "test_ios",
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
