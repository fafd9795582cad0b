package main

import (
	"os"
	"testing"

	"blockyard/internal/cli"
)

func TestExecute_VersionAndHelp(t *testing.T) {
	for name, args := range map[string][]string{
		"version flag": {"blockyard", "--version"},
		"help default": {"blockyard"},
	} {
		t.Run(name, func(t *testing.T) {
			orig := os.Args
			defer func() { os.Args = orig }()
			os.Args = args
			if err := cli.Execute(); err != nil {
				t.Fatalf("cli.Execute(%v) returned error: %v", args[1:], err)
			}
		})
	}
}
