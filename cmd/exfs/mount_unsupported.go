//go:build !linux && !darwin

package main

import "github.com/spf13/cobra"

// fuse mounting is only wired up on linux and darwin.
func addMountCmd(*cobra.Command) {}
