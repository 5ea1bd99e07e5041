package device

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrUnsupported is returned by native actions on platforms without the
// corresponding integration.
var ErrUnsupported = fmt.Errorf("device integration not available on %s", runtime.GOOS)

// appleScriptDate renders t the way AppleScript's date parser expects.
const appleScriptDate = "January 2, 2006 3:04:05 PM"

// NativeActions returns the platform integrations. On darwin they shell out
// to osascript; elsewhere every action reports ErrUnsupported and the
// handshake runner turns that into a failed outcome.
func NativeActions() Actions {
	return Actions{
		Notifier:  nativeNotifier{},
		Calendar:  nativeCalendar{},
		Reminders: nativeReminders{},
	}
}

type nativeNotifier struct{}

// Schedule displays a notification. fireAt is recorded server-side; the
// local display is immediate since osascript has no deferred delivery.
func (nativeNotifier) Schedule(ctx context.Context, title, body string, fireAt time.Time) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`,
			sanitize(body), sanitize(title))
		return runOSAScript(ctx, script)
	case "linux":
		cmd := exec.CommandContext(ctx, "notify-send", sanitize(title), sanitize(body))
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	default:
		return ErrUnsupported
	}
}

type nativeCalendar struct{}

func (nativeCalendar) CreateEvent(ctx context.Context, title, notes string, startsAt, endsAt time.Time) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupported
	}
	script := fmt.Sprintf(`
		tell application "Calendar"
			tell calendar 1
				make new event with properties {summary:%q, start date:date %q, end date:date %q, description:%q}
			end tell
		end tell
	`, sanitize(title), startsAt.Local().Format(appleScriptDate), endsAt.Local().Format(appleScriptDate), sanitize(notes))
	return runOSAScript(ctx, script)
}

type nativeReminders struct{}

func (nativeReminders) CreateReminder(ctx context.Context, title, notes string, dueAt *time.Time) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupported
	}
	props := fmt.Sprintf(`name:%q`, sanitize(title))
	if notes != "" {
		props += fmt.Sprintf(`, body:%q`, sanitize(notes))
	}
	if dueAt != nil {
		props += fmt.Sprintf(`, due date:date %q`, dueAt.Local().Format(appleScriptDate))
	}
	script := fmt.Sprintf(`
		tell application "Reminders"
			tell default list
				make new reminder with properties {%s}
			end tell
		end tell
	`, props)
	return runOSAScript(ctx, script)
}

func runOSAScript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// sanitize strips characters that could break AppleScript quoting and caps
// the length at something a notification can show.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\"", "'")
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
