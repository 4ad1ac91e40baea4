package cmd

// Version is set at build time with -ldflags "-X github.com/chadmayfield/aquachroma/cmd.Version=...".
var Version = "dev"
