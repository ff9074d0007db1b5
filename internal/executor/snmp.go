// ABOUTME: Builds net-snmp command lines and parses their output
// ABOUTME: Agent handlers use these to turn command params into allow-listed Commands

package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SNMPRequest describes one net-snmp invocation.
type SNMPRequest struct {
	Target    string
	OID       string
	Community string
	Version   string // "1", "2c"
	Timeout   int    // seconds per try
	Retries   int

	// Type and Value are only used by snmpset. Type is the net-snmp type
	// letter (i, u, s, x, a, ...).
	Type  string
	Value string
}

// Defaults fills unset fields with the values used across the lab.
func (r SNMPRequest) Defaults() SNMPRequest {
	if r.Community == "" {
		r.Community = "private"
	}
	if r.Version == "" {
		r.Version = "2c"
	}
	if r.Timeout <= 0 {
		r.Timeout = 5
	}
	if r.Retries < 0 {
		r.Retries = 0
	}
	if r.Type == "" {
		r.Type = "s"
	}
	return r
}

// Command builds the argv for program (snmpget, snmpwalk, snmpset, ...).
// The command timeout covers every retry plus slack for process startup.
func (r SNMPRequest) Command(program string) (Command, error) {
	r = r.Defaults()
	if r.Target == "" {
		return Command{}, fmt.Errorf("target_ip is required")
	}
	if r.OID == "" {
		return Command{}, fmt.Errorf("oid is required")
	}
	if err := CheckOperand("target_ip", r.Target); err != nil {
		return Command{}, err
	}
	if err := CheckOperand("oid", r.OID); err != nil {
		return Command{}, err
	}

	args := []string{
		"-v" + r.Version,
		"-c", r.Community,
		"-t", strconv.Itoa(r.Timeout),
		"-r", strconv.Itoa(r.Retries),
	}
	if program == "snmpset" {
		if r.Value == "" {
			return Command{}, fmt.Errorf("value is required for snmpset")
		}
		if err := CheckOperand("type", r.Type); err != nil {
			return Command{}, err
		}
		// Negative integers are legal values; end option parsing before them.
		if strings.HasPrefix(r.Value, "-") {
			args = append(args, "--")
		}
		args = append(args, r.Target, r.OID, r.Type, r.Value)
	} else {
		args = append(args, r.Target, r.OID)
	}

	return Command{
		Name:    program,
		Args:    args,
		Timeout: time.Duration(r.Timeout*(r.Retries+1)+5) * time.Second,
	}, nil
}

// VarBind is one line of net-snmp output.
type VarBind struct {
	OID   string `json:"oid"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ParseVarBinds splits "OID = TYPE: value" lines. Lines without a type
// (such as "No Such Object") keep the raw text as Value.
func ParseVarBinds(output string) []VarBind {
	var out []VarBind
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		oid, rest, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		vb := VarBind{OID: strings.TrimSpace(oid)}
		if typ, val, ok := strings.Cut(rest, ": "); ok && !strings.Contains(typ, " ") {
			vb.Type = typ
			vb.Value = strings.Trim(strings.TrimSpace(val), `"`)
		} else {
			vb.Value = strings.TrimSpace(rest)
		}
		out = append(out, vb)
	}
	return out
}

var enumInt = regexp.MustCompile(`\((-?\d+)\)\s*$`)

// IntValue extracts an integer from values such as "4", "sampleReady(4)",
// or "INTEGER: sampleReady(4)".
func IntValue(s string) (int, error) {
	s = strings.TrimSpace(s)
	if _, v, ok := strings.Cut(s, ": "); ok {
		s = strings.TrimSpace(v)
	}
	if m := enumInt.FindStringSubmatch(s); m != nil {
		return strconv.Atoi(m[1])
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer value: %q", s)
	}
	return n, nil
}
