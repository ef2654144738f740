package rpc

// Version is reported by initialize and the CLI.
const Version = "0.1.0"
