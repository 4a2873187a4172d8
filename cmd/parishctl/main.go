// parishctl is the command-line client for the parish backend. It drives
// the same SDK the apps use: the remote gateway, the session store, and
// the realtime bridge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"parishly.org/internal/obs"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath string
	root := &cobra.Command{
		Use:           "parishctl",
		Short:         "Manage parishes, schedules, appointments and donations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	app := &app{configPath: &configPath}

	root.AddCommand(
		newLoginCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newChurchesCmd(app),
		newScheduleCmd(app),
		newAnnouncementsCmd(app),
		newAppointmentsCmd(app),
		newDonationsCmd(app),
		newDocumentsCmd(app),
	)

	obs.Init(version)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "parishctl: %v\n", err)
		os.Exit(1)
	}
}
