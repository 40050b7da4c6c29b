// Package ui provides terminal output for the updater commands.
//
// Components follow a "render once" pattern built on Lipgloss:
//
//   - Header: command banner showing the operation and its parameters
//   - Result: success/failure boxes with details or troubleshooting tips
//   - Transfer: in-place byte progress bar for firmware pushes
//   - RenderTable: device listings for scans
//
// StatusModel is the exception: a Bubble Tea program showing the agent's
// link state, fed by the update controller through Observer.
//
//	model := ui.NewStatusModel("Update Agent", info, cancel)
//	p := tea.NewProgram(model)
//	go updater.Run(ctx, ctrl, interval, ui.Observer(p))
//	_, err := p.Run()
//
// # Logging Integration
//
// zap logging is silent unless REMOTEUPDATE_LOG_LEVEL or --log-level is
// set, so the styled output is not interleaved with log lines.
package ui
