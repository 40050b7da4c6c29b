// Package config loads the update agent's configuration.
//
// The configuration is a YAML file with environment overrides. Values are
// resolved in this order, later winning:
//  1. Defaults from NewAgentConfig (web portal on "/", listener disabled)
//  2. config.yaml
//  3. REMOTEUPDATE_* environment variables, optionally loaded from .env
//     files with LoadEnvFiles
//
// # Configuration File Location
//
// The default file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/remoteupdate/config.yaml or $HOME/.config/remoteupdate/config.yaml
//   - macOS: $HOME/.config/remoteupdate/config.yaml
//   - Windows: %LOCALAPPDATA%\remoteupdate\config.yaml
//
// Staged firmware goes to a "firmware" directory next to the file unless
// firmware.dir says otherwise.
//
// # Example
//
//	version: 1
//	hostname: device1
//	debug: true
//	portal:
//	  enabled: true
//	  username: admin
//	  password: secret
//	  base_path: /update
//	ota:
//	  enabled: true
//	  port: 3232
//	link:
//	  interface: wlan0
//	  poll_interval: 10ms
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctrl, err := cfg.ApplyTo(updater.NewBuilder()).Build(deps)
package config
