package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"parishly.org/internal/appointment"
	"parishly.org/internal/donation"
	"parishly.org/internal/parish"
	"parishly.org/internal/session"
)

var weekdays = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.ready(ctx); err != nil {
				return err
			}
			if email == "" {
				email = prompt("email: ")
			}
			if password == "" {
				password = prompt("password: ")
			}
			// The snapshot update arrives through the credential-change
			// path, so watch for it rather than reading Current right away.
			watchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			snaps := a.store.Subscribe(watchCtx)
			if err := a.store.SignIn(ctx, email, password); err != nil {
				return err
			}
			for snap := range snaps {
				if snap.SignedIn() {
					fmt.Printf("signed in as %s\n", describeUser(snap))
					return nil
				}
			}
			fmt.Printf("signed in as %s\n", describeUser(a.store.Current()))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.ready(cmd.Context()); err != nil {
				return err
			}
			if err := a.store.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.ready(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(describeUser(snap))
			if snap.Profile != nil {
				church := snap.Profile.ChurchID
				caps := []struct {
					name string
					ok   bool
				}{
					{"manage church", session.CanManageChurch(snap.Profile, church)},
					{"publish announcements", session.CanPublishAnnouncements(snap.Profile, church)},
					{"review appointments", session.CanReviewAppointments(snap.Profile, church)},
					{"verify donations", session.CanVerifyDonations(snap.Profile, church)},
				}
				for _, c := range caps {
					if c.ok {
						fmt.Printf("  can %s\n", c.name)
					}
				}
			}
			return nil
		},
	}
}

func newChurchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "churches",
		Short: "Browse the church directory",
	}

	var diocese string
	list := &cobra.Command{
		Use:   "list",
		Short: "List churches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.ready(cmd.Context()); err != nil {
				return err
			}
			churches, err := a.parishes().ListChurches(cmd.Context(), diocese)
			if err != nil {
				return err
			}
			printChurches(churches)
			return nil
		},
	}
	list.Flags().StringVar(&diocese, "diocese", "", "Filter by diocese")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search churches by name or city",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.ready(cmd.Context()); err != nil {
				return err
			}
			churches, err := a.parishes().ListChurches(cmd.Context(), "")
			if err != nil {
				return err
			}
			q := strings.ToLower(args[0])
			var hits []parish.Church
			for _, ch := range churches {
				if strings.Contains(strings.ToLower(ch.Name), q) || strings.Contains(strings.ToLower(ch.City), q) {
					hits = append(hits, ch)
				}
			}
			printChurches(hits)
			return nil
		},
	}

	cmd.AddCommand(list, search)
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <church-id>",
		Short: "Show a church's mass schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.ready(cmd.Context()); err != nil {
				return err
			}
			slots, err := a.parishes().Schedules(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "DAY\tTIME\tLANGUAGE\tNOTE")
			for _, s := range slots {
				day := "?"
				if s.Day >= 0 && s.Day <= 6 {
					day = weekdays[s.Day]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", day, s.StartsAt, s.Language, s.Note)
			}
			return w.Flush()
		},
	}
}

func newAnnouncementsCmd(a *app) *cobra.Command {
	var churchID string
	var watch bool
	cmd := &cobra.Command{
		Use:   "announcements",
		Short: "Show active announcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.ready(ctx); err != nil {
				return err
			}
			svc := a.announcements()
			show := func() error {
				items, err := svc.ListActive(ctx, churchID)
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "PUBLISHED\tTITLE\tBODY")
				for _, it := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\n", it.PublishedAt.Local().Format("2006-01-02 15:04"), it.Title, oneLine(it.Body, 80))
				}
				return w.Flush()
			}
			if err := show(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			bridge := a.bridge()
			cancel := svc.Watch(bridge, churchID, func() {
				if err := show(); err != nil {
					fmt.Fprintf(os.Stderr, "refetch: %v\n", err)
				}
			})
			defer cancel()
			go bridge.Run(ctx)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&churchID, "church", "", "Scope to one church (diocese-wide included)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and refresh on backend changes")
	return cmd
}

func newAppointmentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Book and review sacrament appointments",
	}

	var churchID, sacrament, slot, note string
	book := &cobra.Command{
		Use:   "book",
		Short: "Request a sacrament slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339, slot)
			if err != nil {
				return fmt.Errorf("parse --slot (RFC 3339 expected): %w", err)
			}
			appt, err := a.appointments().Book(cmd.Context(), snap.Identity.ID, appointment.BookingInput{
				ChurchID:  churchID,
				Sacrament: appointment.Sacrament(sacrament),
				SlotAt:    at,
				Note:      note,
			})
			if err != nil {
				return err
			}
			fmt.Printf("booked %s %s at %s (%s)\n", appt.ID, appt.Sacrament, appt.SlotAt.Local().Format(time.RFC822), appt.Status)
			return nil
		},
	}
	book.Flags().StringVar(&churchID, "church", "", "Church id")
	book.Flags().StringVar(&sacrament, "sacrament", "", "baptism, wedding, funeral, confirmation or first_communion")
	book.Flags().StringVar(&slot, "slot", "", "Requested slot, RFC 3339")
	book.Flags().StringVar(&note, "note", "", "Optional note for the parish office")

	var listChurch, listStatus string
	list := &cobra.Command{
		Use:   "list",
		Short: "List appointments (yours, or a church's with --church)",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			var items []appointment.Appointment
			if listChurch != "" {
				items, err = a.appointments().ListForChurch(cmd.Context(), listChurch, appointment.Status(listStatus))
			} else {
				items, err = a.appointments().ListMine(cmd.Context(), snap.Identity.ID)
			}
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tSACRAMENT\tSLOT\tSTATUS\tNOTE")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Sacrament, it.SlotAt.Local().Format("2006-01-02 15:04"), it.Status, oneLine(it.Note, 40))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&listChurch, "church", "", "Review a church's bookings instead of your own")
	list.Flags().StringVar(&listStatus, "status", "", "Filter by status when using --church")

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel your appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.requireUser(cmd.Context()); err != nil {
				return err
			}
			appt, err := a.appointments().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", appt.ID, appt.Status)
			return nil
		},
	}

	decide := func(use, short string, fn func(*app, *cobra.Command, string, string) (*appointment.Appointment, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := a.requireUser(cmd.Context())
				if err != nil {
					return err
				}
				appt, err := fn(a, cmd, args[0], snap.Identity.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", appt.ID, appt.Status)
				return nil
			},
		}
	}
	approve := decide("approve <id>", "Approve a pending appointment",
		func(a *app, cmd *cobra.Command, id, reviewer string) (*appointment.Appointment, error) {
			return a.appointments().Approve(cmd.Context(), id, reviewer)
		})
	reject := decide("reject <id>", "Reject a pending appointment",
		func(a *app, cmd *cobra.Command, id, reviewer string) (*appointment.Appointment, error) {
			return a.appointments().Reject(cmd.Context(), id, reviewer)
		})

	cmd.AddCommand(book, list, cancel, approve, reject)
	return cmd
}

func newDonationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donations",
		Short: "Declare and verify donations",
	}

	var churchID, currency, method, reference, note, receiptPath string
	var amount int64
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Declare a donation, optionally attaching a receipt image",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			in := donation.Input{
				ChurchID:    churchID,
				AmountMinor: amount,
				Currency:    currency,
				Method:      donation.Method(method),
				Reference:   reference,
				Note:        note,
			}
			var d *donation.Donation
			if receiptPath != "" {
				f, err := os.Open(receiptPath)
				if err != nil {
					return err
				}
				defer f.Close()
				d, err = a.donations().Submit(cmd.Context(), snap.Identity.ID, in, f, filepath.Base(receiptPath), contentTypeFor(receiptPath))
				if err != nil {
					return err
				}
			} else {
				d, err = a.donations().Submit(cmd.Context(), snap.Identity.ID, in, nil, "", "")
				if err != nil {
					return err
				}
			}
			fmt.Printf("declared %s: %d %s (%s)\n", d.ID, d.AmountMinor, d.Currency, d.Status)
			return nil
		},
	}
	submit.Flags().StringVar(&churchID, "church", "", "Church id")
	submit.Flags().Int64Var(&amount, "amount", 0, "Amount in minor units (centavos)")
	submit.Flags().StringVar(&currency, "currency", "PHP", "ISO 4217 currency code")
	submit.Flags().StringVar(&method, "method", "cash", "cash, bank_transfer or ewallet")
	submit.Flags().StringVar(&reference, "reference", "", "Bank or wallet reference number")
	submit.Flags().StringVar(&note, "note", "", "Optional note")
	submit.Flags().StringVar(&receiptPath, "receipt", "", "Path to a receipt image")

	verify := &cobra.Command{
		Use:   "verify <id>",
		Short: "Mark a pending donation verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			d, err := a.donations().Verify(cmd.Context(), args[0], snap.Identity.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", d.ID, d.Status)
			return nil
		},
	}

	var listChurch, listStatus string
	list := &cobra.Command{
		Use:   "list",
		Short: "List donations (yours, or a church's with --church)",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			var items []donation.Donation
			if listChurch != "" {
				items, err = a.donations().ListForChurch(cmd.Context(), listChurch, donation.Status(listStatus))
			} else {
				items, err = a.donations().ListMine(cmd.Context(), snap.Identity.ID)
			}
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tAMOUNT\tMETHOD\tSTATUS\tREFERENCE")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%d %s\t%s\t%s\t%s\n", it.ID, it.AmountMinor, it.Currency, it.Method, it.Status, it.Reference)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&listChurch, "church", "", "Review a church's donations instead of your own")
	list.Flags().StringVar(&listStatus, "status", "", "Filter by status when using --church")

	cmd.AddCommand(submit, verify, list)
	return cmd
}

func newDocumentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Upload and fetch personal documents",
	}

	var churchID string
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			doc, err := a.documents().Upload(cmd.Context(), snap.Identity.ID, churchID,
				filepath.Base(args[0]), contentTypeFor(args[0]), info.Size(), f)
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s as %s\n", doc.Name, doc.ID)
			return nil
		},
	}
	upload.Flags().StringVar(&churchID, "church", "", "Associate with a church")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			items, err := a.documents().ListMine(cmd.Context(), snap.Identity.ID)
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tUPLOADED")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", it.ID, it.Name, it.SizeBytes, it.CreatedAt.Local().Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	urlCmd := &cobra.Command{
		Use:   "url <id>",
		Short: "Print a short-lived download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.requireUser(cmd.Context()); err != nil {
				return err
			}
			url, err := a.documents().DownloadURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a document and its stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.requireUser(cmd.Context()); err != nil {
				return err
			}
			if err := a.documents().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("removed", args[0])
			return nil
		},
	}

	cmd.AddCommand(upload, list, urlCmd, remove)
	return cmd
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func prompt(label string) string {
	fmt.Print(label)
	sc := bufio.NewScanner(os.Stdin)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

func oneLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
