// Package browser opens forwarded URLs for the user.
package browser

import (
	"fmt"
	"io"
	"strings"

	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"github.com/atotto/clipboard"
	"github.com/pkg/browser"
)

// For mocking in tests
var openURL = browser.OpenURL
var writeClipboard = clipboard.WriteAll

func init() {
	// The launcher's own output would interleave with ours.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// System opens URLs in the user's default browser.
type System struct{}

var _ session.BrowserOpener = System{}

func (System) OpenURL(url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("refusing to open non-http URL %q", url)
	}
	logging.Debug("Browser", "Opening %s", url)
	if err := openURL(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// CopyURL puts url on the system clipboard.
func CopyURL(url string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	if err := writeClipboard(url); err != nil {
		return fmt.Errorf("failed to copy %s to clipboard: %w", url, err)
	}
	logging.Debug("Browser", "Copied %s to clipboard", url)
	return nil
}
