// ABOUTME: pnm_utsc_* commands driving the DOCS-PNM-MIB UTSC tables over direct CMTS SNMP
// ABOUTME: Every row is indexed by the upstream RF port ifIndex plus instance 1

package agentd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/svdleer/PyPNMGui-sub000/internal/executor"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// DOCS-PNM-MIB UTSC table bases.
const (
	oidUtscCfg    = "1.3.6.1.4.1.4491.2.1.27.1.3.10.2.1"
	oidUtscCtrl   = "1.3.6.1.4.1.4491.2.1.27.1.3.10.3.1"
	oidUtscStatus = "1.3.6.1.4.1.4491.2.1.27.1.3.10.4.1"
)

// docsPnmCmtsUtscCfgEntry columns.
const (
	cfgLogicalChIfIndex = 2
	cfgTriggerMode      = 3
	cfgCMMacAddr        = 6
	cfgCenterFreq       = 8
	cfgSpan             = 9
	cfgNumBins          = 10
	cfgFilename         = 12
	cfgWindow           = 16
	cfgOutputFormat     = 17
	cfgRepeatPeriod     = 18
	cfgFreerunDuration  = 19
	cfgTriggerCount     = 20
	cfgDestinationIndex = 24
)

const (
	ctrlInitiateTest = 1
	statusMeasStatus = 1

	truthValueTrue  = "1"
	truthValueFalse = "2"
)

func utscOID(table string, column, rfPort int) string {
	return fmt.Sprintf("%s.%d.%d.1", table, column, rfPort)
}

// utscSet is one SNMP set in a configure sequence.
type utscSet struct {
	column int
	typ    string
	value  string
}

// utscConfigSets renders p as the ordered list of cfg table writes. Trigger
// count is left alone in free-running mode since CMTSes reject it there.
func utscConfigSets(p utsc.Params) []utscSet {
	sets := []utscSet{
		{cfgTriggerMode, "i", strconv.Itoa(int(p.TriggerMode))},
	}
	if p.LogicalChIfIndex != 0 {
		sets = append(sets, utscSet{cfgLogicalChIfIndex, "i", strconv.Itoa(p.LogicalChIfIndex)})
	}
	if p.MAC != "" {
		sets = append(sets, utscSet{cfgCMMacAddr, "x", macHex(p.MAC)})
	}
	sets = append(sets,
		utscSet{cfgCenterFreq, "u", strconv.FormatInt(p.CenterFreqHz, 10)},
		utscSet{cfgSpan, "u", strconv.FormatInt(p.SpanHz, 10)},
		utscSet{cfgNumBins, "u", strconv.Itoa(p.NumBins)},
		utscSet{cfgFilename, "s", p.Filename},
		utscSet{cfgWindow, "i", strconv.Itoa(int(p.Window))},
		utscSet{cfgOutputFormat, "i", strconv.Itoa(int(p.OutputFormat))},
		utscSet{cfgRepeatPeriod, "u", strconv.Itoa(p.RepeatPeriodMs * 1000)},
		utscSet{cfgFreerunDuration, "u", strconv.Itoa(p.FreerunDurationMs)},
	)
	if p.TriggerMode != utsc.TriggerFreeRunning {
		sets = append(sets, utscSet{cfgTriggerCount, "u", strconv.Itoa(p.TriggerCount)})
	}
	return append(sets, utscSet{cfgDestinationIndex, "u", "1"})
}

// macHex turns "00:11:22:aa:bb:cc" (or dash separated) into "001122aabbcc".
func macHex(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "")
	return strings.ToLower(r.Replace(mac))
}

type utscTarget struct {
	cmtsIP    string
	community string
	rfPort    int
}

func utscTargetFrom(p Params) (utscTarget, error) {
	if err := p.Require("cmts_ip", "rf_port_ifindex"); err != nil {
		return utscTarget{}, err
	}
	rf, err := p.Int("rf_port_ifindex", 0)
	if err != nil {
		return utscTarget{}, err
	}
	return utscTarget{
		cmtsIP:    p.String("cmts_ip"),
		community: p.StringOr("community", "private"),
		rfPort:    rf,
	}, nil
}

func (t *Toolkit) utscSNMP(ctx context.Context, program string, tgt utscTarget, oid, typ, value string) (executor.Result, error) {
	req := executor.SNMPRequest{
		Target:    tgt.cmtsIP,
		OID:       oid,
		Community: tgt.community,
		Retries:   1,
		Type:      typ,
		Value:     value,
	}
	cmd, err := req.Command(program)
	if err != nil {
		return executor.Result{}, err
	}
	return t.Local.Execute(ctx, cmd), nil
}

func (t *Toolkit) utscConfigure(ctx context.Context, p Params) (map[string]any, error) {
	tgt, err := utscTargetFrom(p)
	if err != nil {
		return nil, err
	}
	params := utsc.DefaultParams()
	if err := p.Decode(&params); err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range utscConfigSets(params) {
		oid := utscOID(oidUtscCfg, s.column, tgt.rfPort)
		res, err := t.utscSNMP(ctx, "snmpset", tgt, oid, s.typ, s.value)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return map[string]any{
				"success": false,
				"error":   fmt.Sprintf("setting %s: %s", oid, res.Error),
				"applied": applied,
			}, nil
		}
		applied++
	}
	return map[string]any{"success": true, "applied": applied}, nil
}

func (t *Toolkit) utscControl(ctx context.Context, p Params, value string) (map[string]any, error) {
	tgt, err := utscTargetFrom(p)
	if err != nil {
		return nil, err
	}
	res, err := t.utscSNMP(ctx, "snmpset", tgt, utscOID(oidUtscCtrl, ctrlInitiateTest, tgt.rfPort), "i", value)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return map[string]any{"success": false, "error": res.Error}, nil
	}
	return map[string]any{"success": true}, nil
}

func (t *Toolkit) utscStart(ctx context.Context, p Params) (map[string]any, error) {
	return t.utscControl(ctx, p, truthValueTrue)
}

func (t *Toolkit) utscStop(ctx context.Context, p Params) (map[string]any, error) {
	return t.utscControl(ctx, p, truthValueFalse)
}

func (t *Toolkit) utscStatus(ctx context.Context, p Params) (map[string]any, error) {
	tgt, err := utscTargetFrom(p)
	if err != nil {
		return nil, err
	}
	res, err := t.utscSNMP(ctx, "snmpget", tgt, utscOID(oidUtscStatus, statusMeasStatus, tgt.rfPort), "", "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return map[string]any{"success": false, "error": res.Error}, nil
	}

	binds := executor.ParseVarBinds(res.Output)
	if len(binds) == 0 {
		return map[string]any{"success": false, "error": "empty status reply"}, nil
	}
	status, err := executor.IntValue(binds[0].Value)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{
		"success":     true,
		"meas_status": status,
		"status_name": utsc.MeasStatus(status).String(),
	}, nil
}
