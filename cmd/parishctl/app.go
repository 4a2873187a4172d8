package main

import (
	"context"
	"errors"
	"fmt"

	"parishly.org/internal/announcement"
	"parishly.org/internal/appointment"
	"parishly.org/internal/config"
	"parishly.org/internal/document"
	"parishly.org/internal/donation"
	"parishly.org/internal/gateway"
	"parishly.org/internal/parish"
	"parishly.org/internal/realtime"
	"parishly.org/internal/session"
)

// app wires the SDK once per invocation. Commands call setup, and those
// that need a resolved session call ready to run the store to Ready first.
type app struct {
	configPath *string

	cfg   config.Config
	gw    *gateway.Client
	store *session.Store
}

func (a *app) setup(ctx context.Context) error {
	if a.gw != nil {
		return nil
	}
	cfg, err := config.Load(*a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	credPath, err := gateway.DefaultCredentialPath()
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.HTTPTimeout,
		gateway.WithCredentialStore(gateway.FileCredentialStore{Path: credPath}))
	if err != nil {
		return err
	}
	a.gw = gw
	a.store = session.NewStore(gw, session.Config{
		BootstrapTimeout: cfg.Session.BootstrapTimeout,
		LookupRetries:    cfg.Session.LookupRetries,
		LookupRetryDelay: cfg.Session.LookupRetryDelay,
		RequireProfile:   cfg.Session.RequireProfile,
		IsTransient:      gateway.IsTransient,
	})
	return nil
}

// ready runs the session store until Ready and returns its snapshot.
func (a *app) ready(ctx context.Context) (session.Snapshot, error) {
	if err := a.setup(ctx); err != nil {
		return session.Snapshot{}, err
	}
	go a.store.Run(ctx)
	if err := a.store.AwaitReady(ctx); err != nil {
		return session.Snapshot{}, err
	}
	return a.store.Current(), nil
}

// requireUser is ready plus a signed-in check.
func (a *app) requireUser(ctx context.Context) (session.Snapshot, error) {
	snap, err := a.ready(ctx)
	if err != nil {
		return snap, err
	}
	if !snap.SignedIn() {
		return snap, errors.New("not signed in, run `parishctl login` first")
	}
	return snap, nil
}

func (a *app) bridge() *realtime.Bridge {
	return realtime.New(a.cfg.Backend.URL, a.cfg.Backend.APIKey)
}

func (a *app) parishes() *parish.Service            { return parish.NewService(a.gw) }
func (a *app) announcements() *announcement.Service { return announcement.NewService(a.gw) }
func (a *app) appointments() *appointment.Service   { return appointment.NewService(a.gw) }
func (a *app) donations() *donation.Service {
	return donation.NewService(a.gw, a.gw, a.cfg.Storage.ReceiptBucket)
}
func (a *app) documents() *document.Service {
	return document.NewService(a.gw, a.gw, a.cfg.Storage.DocumentBucket)
}

func describeUser(snap session.Snapshot) string {
	if !snap.SignedIn() {
		return "anonymous"
	}
	who := snap.Identity.Email
	if snap.Profile != nil {
		who = fmt.Sprintf("%s (%s, role %s)", snap.Profile.DisplayName, snap.Identity.Email, snap.Profile.Role)
	}
	return who
}
