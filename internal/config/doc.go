// SPDX-License-Identifier: MPL-2.0

// Package config handles engine configuration using Viper with CUE as the
// file format.
//
// Configuration is loaded from ~/.config/hotswap/config.cue (or the XDG
// equivalent on Linux, ~/Library/Application Support/hotswap/config.cue on
// macOS, %APPDATA%\hotswap\config.cue on Windows). Files are validated
// against an embedded CUE schema (config_schema.cue) before being merged
// over the defaults, so an invalid config fails loudly instead of silently
// running with surprising thresholds.
package config
