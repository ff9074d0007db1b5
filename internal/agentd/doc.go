// Package agentd is the process that runs on a jump host next to the CMTS
// and cable modem networks. It keeps one authenticated control channel to
// the gateway and executes the commands it receives there.
//
// Commands run concurrently up to a worker limit. Each reply carries the
// task_id of its command. A task_id seen twice within ten minutes is only
// executed once.
package agentd
