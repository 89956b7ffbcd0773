// Package secretstore reads and persists the client secret used for the
// client credentials exchange, so it does not have to live in a config file.
//
// Three backends are available:
//   - File: local file with atomic writes and 0600 permissions
//   - Env: read-only environment variable (secret injected by the platform)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// The login command needs a writable backend (file or keyring).
package secretstore
