package bootgate

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// PowerOff flushes disk caches and powers the machine off. Replaceable for
// dry runs.
type PowerOff func() error

// SystemPowerOff is the production sink: sync(2) then an immediate forced
// poweroff through systemd.
func SystemPowerOff() error {
	syscall.Sync()
	return exec.Command("systemctl", "poweroff", "--force").Run()
}

// Enforce maps a verification result onto the machine. Ready is a no-op
// success; FailClosed logs the full trace to the journal and the kernel ring
// buffer, then powers off and does not return an error the caller could
// ignore.
func Enforce(log *slog.Logger, res Result, powerOff PowerOff) error {
	if res.Ready() {
		log.Info("Boot gate passed",
			"device", res.Device.Path,
			"fsType", res.Device.FilesystemType,
			"label", res.Device.FilesystemLabel)
		return nil
	}

	log.Error("Boot gate failed, powering off", "err", res.Err, "trace", fmt.Sprint(res.Trace))
	logToKmsg(fmt.Sprintf("bootgate: FAIL-CLOSED: %v (trace %v)", res.Err, res.Trace))

	if err := powerOff(); err != nil {
		// The one state worse than powering off is continuing to run.
		log.Error("Power-off request failed", "err", err)
		return fmt.Errorf("fail-closed power-off did not complete: %w", err)
	}
	return res.Err
}

// logToKmsg writes one line to the kernel ring buffer so the reason survives
// in the console log even if the journal is lost. Best effort.
func logToKmsg(msg string) {
	f, err := os.OpenFile("/dev/kmsg", os.O_WRONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "<2>%s\n", msg)
}
