// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
// Package runtimeEnv holds small process-lifecycle helpers that don't
// belong to any one pipeline stage: a minimal .env loader, dropping
// root privileges once privileged resources are open, and notifying
// systemd of readiness/shutdown.
package runtimeEnv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/sentinel-ops/sentinel/pkg/log"
)

// Very simple and limited .env file reader.
// All variable definitions found are directly
// added to the processes environment.
func LoadEnv(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}

	defer f.Close()
	s := bufio.NewScanner(bufio.NewReader(f))
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "#") || len(line) == 0 {
			continue
		}

		if strings.Contains(line, "#") {
			return errors.New("'#' are only supported at the start of a line")
		}

		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("RUNTIME/SETUP > unsupported line: %#v", line)
		}

		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if strings.HasPrefix(val, "\"") {
			if !strings.HasSuffix(val, "\"") {
				return fmt.Errorf("RUNTIME/SETUP > unsupported line: %#v", line)
			}

			runes := []rune(val[1 : len(val)-1])
			sb := strings.Builder{}
			for i := 0; i < len(runes); i++ {
				if runes[i] == '\\' {
					i++
					switch runes[i] {
					case 'n':
						sb.WriteRune('\n')
					case 'r':
						sb.WriteRune('\r')
					case 't':
						sb.WriteRune('\t')
					case '"':
						sb.WriteRune('"')
					default:
						return fmt.Errorf("RUNTIME/SETUP > unsupported escape sequence in quoted string: backslash %#v", runes[i])
					}
					continue
				}
				sb.WriteRune(runes[i])
			}

			val = sb.String()
		}

		os.Setenv(key, val)
	}

	return s.Err()
}

// DropPrivileges switches the running process to the given unprivileged
// group and user, in that order (group first, since looking up a user's
// default group after Setuid has already dropped root would fail). An
// empty username or group is left untouched. The go runtime applies the
// underlying setuid/setgid syscall to every OS thread, not only the
// calling one, so the whole process is affected consistently.
//
// Call this only after every resource that needs elevated permissions -
// the nginx log directory, a low config/database path owned by root -
// has already been opened; nothing opened afterward will have access to
// those permissions again.
func DropPrivileges(username, group string) error {
	if username == "" && group == "" {
		return nil
	}

	if group != "" {
		gid, err := lookupGroupID(group)
		if err != nil {
			return fmt.Errorf("runtimeEnv: look up group %q: %w", group, err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("runtimeEnv: setgid %d: %w", gid, err)
		}
	}

	if username != "" {
		uid, err := lookupUserID(username)
		if err != nil {
			return fmt.Errorf("runtimeEnv: look up user %q: %w", username, err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("runtimeEnv: setuid %d: %w", uid, err)
		}
	}

	log.Infof("runtimeEnv: dropped privileges to user=%q group=%q", username, group)
	return nil
}

func lookupGroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

func lookupUserID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

// If started via systemd, inform systemd that we are running:
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotifiy(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		// Not started using systemd
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}

	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() // errors ignored on purpose, there is not much to do anyways.
}
