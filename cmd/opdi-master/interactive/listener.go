package interactive

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/leomeyer/OPDI-deprecated/pkg/device"
)

// Prompter asks the user for credentials.
type Prompter interface {
	// Credentials returns the user's input, whether to remember it and
	// whether the user answered at all.
	Credentials(label string) (device.Credentials, bool, bool)
}

// terminalPrompter reads the user name through readline and the password
// with echo disabled.
type terminalPrompter struct {
	mu sync.Mutex
	rl *readline.Instance
	in *os.File
}

func (p *terminalPrompter) Credentials(label string) (device.Credentials, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.rl.Stdout(), "%s requires authentication\n", label)
	user, err := p.readLine("User: ")
	if err != nil || user == "" {
		return device.Credentials{}, false, false
	}
	password, err := p.readPassword("Password: ")
	if err != nil {
		return device.Credentials{}, false, false
	}
	answer, err := p.readLine("Remember credentials? [y/N] ")
	if err != nil {
		return device.Credentials{}, false, false
	}
	remember := strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	return device.Credentials{User: user, Password: password}, remember, true
}

func (p *terminalPrompter) readLine(prompt string) (string, error) {
	old := p.rl.Config.Prompt
	defer p.rl.SetPrompt(old)
	p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	return strings.TrimSpace(line), err
}

func (p *terminalPrompter) readPassword(prompt string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return p.readLine(prompt)
	}
	fmt.Fprint(p.rl.Stdout(), prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.rl.Stdout())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// consoleListener prints device events.
type consoleListener struct {
	m *Master
}

func (c *consoleListener) printf(format string, args ...any) {
	fmt.Fprintf(c.m.out, format+"\n", args...)
}

func (c *consoleListener) OnConnectionInitiated(d *device.Device) {
	c.printf("[EVENT] Connecting to %s...", d)
}

func (c *consoleListener) OnConnectionAborted(d *device.Device) {
	c.printf("[EVENT] Connect to %s aborted", d.Label())
}

func (c *consoleListener) OnConnectionOpened(d *device.Device) {
	if a, ok := d.Agreement(); ok {
		c.printf("[EVENT] Connected to %s (protocol %s v%d)", d.Label(), a.Magic, a.Version)
		return
	}
	c.printf("[EVENT] Connected to %s", d.Label())
}

func (c *consoleListener) OnConnectionFailed(d *device.Device, err error) {
	c.printf("[EVENT] Connect to %s failed: %v", d.Label(), err)
}

func (c *consoleListener) OnConnectionClosed(d *device.Device) {
	c.m.stopStreams(d.ID())
	c.printf("[EVENT] Disconnected from %s", d.Label())
}

func (c *consoleListener) OnConnectionError(d *device.Device, err error) {
	c.printf("[EVENT] Connection to %s lost: %v", d.Label(), err)
}

func (c *consoleListener) GetCredentials(d *device.Device) (device.Credentials, bool, bool) {
	if c.m.prompt == nil {
		return device.Credentials{}, false, false
	}
	return c.m.prompt.Credentials(d.Label())
}

func (c *consoleListener) OnDebug(d *device.Device, text string) {
	c.printf("[DEBUG] %s: %s", d.Label(), text)
}

func (c *consoleListener) OnDeviceError(d *device.Device, text string) {
	c.printf("[ERROR] %s: %s", d.Label(), text)
}

func (c *consoleListener) OnReconfigure(d *device.Device) {
	c.printf("[EVENT] %s reconfigured", d.Label())
}

func (c *consoleListener) OnRefresh(d *device.Device, portIDs []string) {
	if len(portIDs) == 0 {
		c.printf("[EVENT] %s: all ports refreshed", d.Label())
		return
	}
	c.printf("[EVENT] %s: refreshed %s", d.Label(), strings.Join(portIDs, ", "))
}
