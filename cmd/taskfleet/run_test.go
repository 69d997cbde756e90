package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfleet/internal/config"
	"taskfleet/internal/domain"
	httptask "taskfleet/internal/handlers/http"
	"taskfleet/internal/handlers/shell"
	"taskfleet/internal/registry"
)

func TestConfiguredTasks(t *testing.T) {
	cfg := config.Config{Tasks: []config.TaskConfig{
		{Name: "vacuum", Profile: "nightly", Shell: &shell.Cmd{Command: "true"}},
		{Name: "ping", HTTP: &httptask.Request{URL: "http://localhost/health"}},
	}}

	decls := configuredTasks(cfg)
	require.Len(t, decls, 2)

	assert.NoError(t, decls[0].Err())
	assert.Equal(t, "vacuum", decls[0].Name())
	assert.Equal(t, "nightly", decls[0].Profile())
	assert.Equal(t, "shell.Cmd", decls[0].Owner())
	assert.Equal(t, registry.ShapeCancellable, decls[0].Shape())

	assert.NoError(t, decls[1].Err())
	assert.Equal(t, domain.DefaultProfile, decls[1].Profile())
	assert.Equal(t, "http.Request", decls[1].Owner())

	descs, err := registry.New(decls...).Discover(nil)
	require.NoError(t, err)
	assert.Len(t, descs, 2)
}

func TestConfiguredTaskWithoutKindFailsDiscovery(t *testing.T) {
	decls := configuredTasks(config.Config{Tasks: []config.TaskConfig{{Name: "empty"}}})
	require.Len(t, decls, 1)
	assert.ErrorIs(t, decls[0].Err(), registry.ErrUnsupportedSignature)
}
