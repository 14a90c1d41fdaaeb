package host

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Opener opens a URL in a new browser tab.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// BrowserOpener hands URLs to the platform's default URL handler.
type BrowserOpener struct {
	// GOOS overrides runtime.GOOS; empty means the running platform.
	GOOS string
}

func (o BrowserOpener) command(url string) (string, []string) {
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

func (o BrowserOpener) Open(ctx context.Context, url string) error {
	name, args := o.command(url)
	cmd := exec.CommandContext(ctx, name, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\n%s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
