// Package embedded provides the dashboard assets compiled into the cq
// binary so the control plane can serve its UI without a checkout on
// disk.
package embedded

import "embed"

// DashboardFS contains the static dashboard served at the control
// plane root.
//
//go:embed all:dashboard
var DashboardFS embed.FS
