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

package hostsctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddIsIdempotentAndPresentReportsIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0o644))

	c := New(path, "server.codeium.com")
	present, err := c.Present()
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, c.Add())
	require.NoError(t, c.Add())

	present, err = c.Present()
	require.NoError(t, err)
	require.True(t, present)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, countLines(string(data)), "Add called twice should not duplicate the marker line")
}

func TestRemoveOnlyDropsMarkedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0o644))

	c := New(path, "server.codeium.com")
	require.NoError(t, c.Add())
	require.NoError(t, c.Remove())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1 localhost\n", string(data))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
