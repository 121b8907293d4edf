package system

// Version is replaced at build time with -ldflags.
var Version = "develop"
