package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"spacelink": func() { os.Exit(run()) },
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: filepath.Join("testdata", "script"),
		Setup: func(env *testscript.Env) error {
			home := filepath.Join(env.WorkDir, "home")
			env.Setenv("HOME", home)
			env.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
			env.Setenv("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
			env.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
			env.Setenv("SPACELINK_UPDATE_CHECK", "false")
			env.Setenv("SPACELINK_LOG_STDERR", "off")
			env.Setenv("SPACELINK_LOG_FILE", filepath.Join(env.WorkDir, "spacelink.log"))
			env.Setenv("NO_COLOR", "1")

			return os.MkdirAll(home, 0o700)
		},
	})
}
