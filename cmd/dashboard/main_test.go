package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/config"
	"go.uber.org/zap/zaptest"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["db"])

	sub, _, err := rootCmd.Find([]string{"db", "init"})
	require.NoError(t, err)
	assert.Equal(t, "init", sub.Name())
}

func TestDBInit_RequiresDatabase(t *testing.T) {
	cfg = &config.Config{}
	logger = zaptest.NewLogger(t)
	t.Cleanup(func() { cfg, logger = nil, nil })

	dbInitCmd.SetContext(context.Background())
	err := dbInitCmd.RunE(dbInitCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is not configured")
}

func TestNewServer(t *testing.T) {
	c := &config.Config{Server: config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 7 * time.Second,
	}}

	srv := newServer(c, nil)
	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadTimeout)
	assert.Equal(t, 7*time.Second, srv.WriteTimeout)
}

func TestServe_StopsOnCancel(t *testing.T) {
	c := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: time.Second,
		},
		Session: config.SessionConfig{
			CookieName:    "dash_ws",
			WorkspaceTTL:  time.Hour,
			MaxWorkspaces: 10,
			VerifyTimeout: time.Second,
			SignInPath:    "/signin",
		},
		Roles: config.RolesConfig{CacheSize: 8, GroupLookupTimeout: time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, c, zaptest.NewLogger(t)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
