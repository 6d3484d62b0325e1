// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride bypasses the platform config directory lookup when
// non-empty. os.UserHomeDir() does not reliably honor the HOME environment
// variable on every platform, so tests redirect the lookup instead of
// manipulating the environment.
var configDirOverride string

// OverrideConfigDir points ConfigDir at dir and returns a func restoring the
// previous lookup. Intended for tests:
//
//	t.Cleanup(config.OverrideConfigDir(t.TempDir()))
func OverrideConfigDir(dir string) (restore func()) {
	previous := configDirOverride
	configDirOverride = dir
	return func() { configDirOverride = previous }
}
