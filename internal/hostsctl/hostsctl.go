/*
Copyright 2026 The Aegisgate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hostsctl is the narrow external collaborator the interception
// proxy delegates all hosts-file mutation to. Its capability
// surface is deliberately limited to exactly three operations: add one
// marker line, remove it, report presence. The proxy itself never edits
// the file directly.
package hostsctl

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/gravitational/trace"
)

const markerSuffix = "# added by aegisgate interceptor"

// Controller mutates a single hosts file, identifying its own lines by
// markerSuffix so Remove never touches entries it didn't add.
type Controller struct {
	path string
	host string // the Platform hostname being redirected to loopback
}

// New targets the OS hosts file (typically /etc/hosts or
// %SystemRoot%\System32\drivers\etc\hosts) for a single platform host.
func New(path, platformHost string) *Controller {
	return &Controller{path: path, host: platformHost}
}

// Present reports whether the marker line for this controller's host is
// already in the file.
func (c *Controller) Present() (bool, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), markerSuffix) && strings.Contains(scanner.Text(), c.host) {
			return true, nil
		}
	}
	return false, trace.Wrap(scanner.Err())
}

// Add appends a single "127.0.0.1 <host> # added by aegisgate interceptor"
// line, unless it is already present.
func (c *Controller) Add() error {
	present, err := c.Present()
	if err != nil {
		return trace.Wrap(err)
	}
	if present {
		return nil
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()
	line := "127.0.0.1 " + c.host + " " + markerSuffix + "\n"
	if _, err := f.WriteString(line); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Remove deletes every line this controller added, leaving everything
// else in the file untouched.
func (c *Controller) Remove() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var kept []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, markerSuffix) && strings.Contains(line, c.host) {
			continue
		}
		kept = append(kept, line)
	}
	if err := scanner.Err(); err != nil {
		return trace.Wrap(err)
	}
	out := strings.Join(kept, "\n")
	if len(kept) > 0 {
		out += "\n"
	}
	return os.WriteFile(c.path, []byte(out), 0o644)
}
