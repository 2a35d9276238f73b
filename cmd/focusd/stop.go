package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pinefield/focusd/internal/config"
)

func pidFilePath(homeDir string) string {
	return filepath.Join(homeDir, "focusd.pid")
}

// writePIDFile records the running process so 'focusd stop' can signal it.
func writePIDFile(homeDir string) (cleanup func(), err error) {
	path := pidFilePath(homeDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, err
	}
	return func() { _ = os.Remove(path) }, nil
}

// runStopCommand ends the running focusd instance (and with it any active
// session, recorded as an early termination) by sending SIGTERM.
func runStopCommand(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: focusd stop")
		return 2
	}

	path := pidFilePath(config.HomeDir())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("focusd is not running.")
			return 0
		}
		fmt.Fprintf(os.Stderr, "read pid file: %v\n", err)
		return 1
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		fmt.Fprintf(os.Stderr, "corrupt pid file %s; removing\n", path)
		_ = os.Remove(path)
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find process %d: %v\n", pid, err)
		return 1
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// The recorded process is gone; clear the stale file.
		fmt.Printf("focusd (pid %d) is not running; removing stale pid file.\n", pid)
		_ = os.Remove(path)
		return 0
	}
	fmt.Printf("Stop signal sent to focusd (pid %d).\n", pid)
	return 0
}
