package ui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("Harvester").Show($toast)
	`, title, message)

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func platformSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	case "windows":
		return &WindowsNotificationSender{}
	default:
		return nil
	}
}

// Notifier announces finished runs according to the notification settings.
// The terminal type prints only; desktop also raises a system notification.
type Notifier struct {
	cfg    config.NotificationConfig
	out    io.Writer
	sender NotificationSender
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier(cfg config.NotificationConfig, out io.Writer) *Notifier {
	n := &Notifier{cfg: cfg, out: out}
	if strings.EqualFold(cfg.NotificationType, "desktop") {
		n.sender = platformSender()
	}
	return n
}

// WithSender replaces the platform sender
func (n *Notifier) WithSender(s NotificationSender) *Notifier {
	n.sender = s
	return n
}

// NotifyRun reports the outcome of a run
func (n *Notifier) NotifyRun(result *models.RunResult, runErr error) {
	if !n.cfg.Enabled || strings.EqualFold(n.cfg.NotificationType, "none") {
		return
	}

	switch {
	case runErr != nil:
		if n.cfg.OnError {
			n.SendError("Harvest aborted", runErr.Error())
		}
	case result != nil && result.Failed() > 0:
		if n.cfg.OnError {
			n.SendError("Harvest finished with errors",
				fmt.Sprintf("%d downloaded, %d failed", result.Downloaded(), result.Failed()))
		}
	case result != nil:
		if n.cfg.OnComplete {
			n.SendSuccess("Harvest complete", fmt.Sprintf("%d files downloaded", result.Downloaded()))
		}
	}
}

// SendNotification sends a desktop notification and prints to console
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// desktop notifications are best effort
		_ = n.sender.Send(title, message)
	}
}
