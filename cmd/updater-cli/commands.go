package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/remoteupdate/internal/discovery"
	"github.com/muurk/remoteupdate/internal/ota"
	"github.com/muurk/remoteupdate/internal/ui"
)

// Command flags
var (
	scanTimeout  int
	deviceAddr   string
	pushPassword string
	pushTimeout  time.Duration
)

// scanCmd discovers agents on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for update agents on the network",
	Long: `Scan for update agents using mDNS/DNS-SD discovery.

Agents announcing the "updater=remoteupdate" TXT record are listed, whether
they run the web updater, the background listener, or both.`,
	Example: `  # Scan for 10 seconds (default)
  updater-cli scan

  # Quick 3-second scan
  updater-cli scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Device Scan", "updater-cli scan",
		ui.Field{Key: "Timeout", Value: strconv.Itoa(scanTimeout) + "s"})

	devices, err := discovery.ScanForDevices(time.Duration(scanTimeout) * time.Second)
	if err != nil {
		printer.PrintFailure("Scan failed", err,
			"Check that multicast is allowed on this network",
			"Allow UDP port 5353 through the firewall",
		)
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		printer.PrintFailure("No devices found", nil,
			"Ensure the agent is running and its link is up",
			"Verify this computer is on the same network segment",
			"Try increasing --timeout for slower networks",
		)
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, scanRow(d))
	}
	printer.PrintTable([]string{"NAME", "HOSTNAME", "WEB", "LISTENER", "VERSION"}, rows)
	printer.Println(fmt.Sprintf("\nFound %d device(s). Use 'updater-cli push <image> --device <name>' to update one.", len(devices)))
	return nil
}

// scanRow renders one device; "-" marks a service the agent does not run.
func scanRow(d *discovery.Device) []string {
	web, listener := "-", "-"
	if d.Port != 0 {
		web = d.Address()
	}
	if addr := d.UpdateAddress(); addr != "" {
		listener = addr
	}
	return []string{d.Name, d.Hostname, web, listener, d.GetMetadata("version")}
}

// pushCmd sends an image to an agent's background listener
var pushCmd = &cobra.Command{
	Use:   "push <image>",
	Short: "Push a firmware image to an update agent",
	Long: `Push a firmware image to the background update listener of an agent.

The device can be given as host or host:port. A bare name such as "device1"
is looked up over mDNS and pushed to the port its listener announces. Otherwise
the port defaults to 3232. The image is verified with MD5 on the device and
staged there; connection failures are retried for up to 30 seconds.`,
	Example: `  # Push to a device found by scan
  updater-cli push build/app.bin --device device1

  # Push to a custom port with a password
  updater-cli push build/app.bin --device 192.168.4.16:4000 --password secret`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&deviceAddr, "device", "", "Device host[:port] (required)")
	pushCmd.Flags().StringVar(&pushPassword, "password", "", "Listener password")
	pushCmd.Flags().DurationVar(&pushTimeout, "timeout", 2*time.Minute, "Overall push timeout")
	_ = pushCmd.MarkFlagRequired("device")
}

func runPush(cmd *cobra.Command, args []string) error {
	path := args[0]
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	addr, err := resolveDevice(deviceAddr)
	if err != nil {
		return err
	}

	client := ota.NewClient(addr, pushPassword)
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Firmware Push", "updater-cli push",
		ui.Field{Key: "Device", Value: client.URL},
		ui.Field{Key: "Image", Value: filepath.Base(path)},
		ui.Field{Key: "Size", Value: ui.FormatBytes(int64(len(image)))},
	)

	transfer := ui.NewTransfer(printer.Writer(), "Sending "+filepath.Base(path))
	client.Progress = transfer.Update

	ctx, cancel := contextWithTimeout(cmd, pushTimeout)
	defer cancel()

	res, err := client.Push(ctx, filepath.Base(path), image)
	transfer.Done()
	if err != nil {
		printer.PrintFailure("Push failed", err, pushTroubleshooting(err)...)
		return err
	}

	printer.PrintSuccess("Firmware staged",
		ui.Field{Key: "Device", Value: res.Host},
		ui.Field{Key: "Image ID", Value: res.ID},
		ui.Field{Key: "SHA-256", Value: res.SHA256},
		ui.Field{Key: "Attempts", Value: strconv.Itoa(res.Attempts)},
	)
	return nil
}

// findListener is replaced in tests.
var findListener = discovery.FindUpdateListener

// resolveDevice looks up bare instance names (no dots, not an IP) over mDNS.
// Everything else is left to the system resolver. An explicit port wins over
// the announced one.
func resolveDevice(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, ""
	}
	if net.ParseIP(host) != nil || strings.Contains(host, ".") {
		return address, nil
	}

	d, err := findListener(host)
	if err != nil {
		return "", fmt.Errorf("failed to find %s on the network: %w", host, err)
	}
	if port == "" {
		port = strconv.Itoa(int(ota.DefaultPort))
		if d.UpdatePort != 0 {
			port = strconv.Itoa(d.UpdatePort)
		}
	}
	return net.JoinHostPort(d.IP, port), nil
}

func pushTroubleshooting(err error) []string {
	var netErr net.Error
	switch {
	case errors.Is(err, ota.ErrAuthFailed):
		return []string{"Check --password matches the agent's ota.password"}
	case errors.Is(err, ota.ErrRejected):
		return []string{"Check the image size against the agent's firmware.max_size_mb"}
	case errors.As(err, &netErr):
		return []string{
			"Check the agent is running with ota.enabled: true",
			"Run 'updater-cli scan' to confirm the device is reachable",
		}
	default:
		return nil
	}
}
