// Package executor runs the external programs an agent needs: net-snmp
// tools and ping locally, and command lines over SSH on the CM proxy,
// the CMTS CLI, or the TFTP host.
//
// Every program is checked against an AllowList before it runs. Local
// commands are started as argv with no shell. Over SSH each word is
// single-quoted.
package executor
