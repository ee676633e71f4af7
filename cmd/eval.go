package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunbk201/netrule/internal/config"
	"github.com/sunbk201/netrule/internal/descriptor"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/settings"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate one session against a rule domain and print the matching rule",
	Example: "  netrule eval -s settings.json --domain port-forward --dst 203.0.113.1:80 --proto tcp\n" +
		"  netrule eval --domain nat --src 192.168.1.20 --src-intf internal --proto udp\n" +
		"  netrule eval --domain bypass --pcap first.pcap --src-intf internal",
	RunE: runEval,
}

var evalRaw descriptor.Raw

func init() {
	f := evalCmd.Flags()
	f.String("domain", string(common.DomainPortForward), "Rule domain: port-forward, nat, bypass")
	f.StringVar(&evalRaw.SrcAddr, "src", "", "Source address, optionally with :port")
	f.StringVar(&evalRaw.DstAddr, "dst", "", "Destination address, optionally with :port")
	f.IntVar(&evalRaw.SrcPort, "src-port", 0, "Source port")
	f.IntVar(&evalRaw.DstPort, "dst-port", 0, "Destination port")
	f.StringVar(&evalRaw.SrcIntf, "src-intf", "", "Source interface id or name")
	f.StringVar(&evalRaw.DstIntf, "dst-intf", "", "Destination interface id or name")
	f.StringVar(&evalRaw.Protocol, "proto", "", "Protocol name or number")
	f.Bool("dst-local", false, "Destination is the appliance itself (derived from local-addresses when unset)")
	f.String("pcap", "", "Take addresses, ports and protocol from the first packet of this pcap file")
	rootCmd.AddCommand(evalCmd)
}

type evalOutput struct {
	Domain     common.Domain        `json:"domain"`
	Matched    bool                 `json:"matched"`
	Index      int                  `json:"index"`
	Scanned    int                  `json:"scanned"`
	Exhausted  bool                 `json:"exhausted,omitempty"`
	Rule       *settings.RuleRecord `json:"rule"`
	Descriptor common.Descriptor    `json:"descriptor"`
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return err
	}
	setCLILogger(cfg.LogLevel)

	domainFlag, _ := cmd.Flags().GetString("domain")
	domain := common.Domain(domainFlag)
	if !domain.Valid() {
		return fmt.Errorf("unknown domain %q", domainFlag)
	}

	raw := evalRaw
	if cmd.Flags().Changed("dst-local") {
		v, _ := cmd.Flags().GetBool("dst-local")
		raw.DstLocal = &v
	}

	rt, _, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("pcap"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return evaluateCapture(cmd.OutOrStdout(), rt, domain, raw, f)
	}
	return evaluate(cmd.OutOrStdout(), rt, domain, raw)
}

func evaluate(w io.Writer, rt *runtime, domain common.Domain, raw descriptor.Raw) error {
	snap := rt.holder.Current()
	d, err := descriptor.Normalize(raw, snap.Interfaces, rt.local)
	if err != nil {
		return err
	}
	return printResult(w, rt, snap, domain, d)
}

// evaluateCapture is evaluate with the session read from a pcap stream; raw
// only contributes interfaces and DstLocal.
func evaluateCapture(w io.Writer, rt *runtime, domain common.Domain, raw descriptor.Raw, pcap io.Reader) error {
	snap := rt.holder.Current()
	d, err := descriptor.FromCapture(pcap, raw, snap.Interfaces, rt.local)
	if err != nil {
		return err
	}
	return printResult(w, rt, snap, domain, d)
}

func printResult(w io.Writer, rt *runtime, snap *settings.Snapshot, domain common.Domain, d common.Descriptor) error {
	res := rt.engine().Evaluate(snap.RuleSet(domain), &d)
	out := evalOutput{
		Domain:     domain,
		Matched:    res.Matched,
		Index:      res.Index,
		Scanned:    res.Scanned,
		Exhausted:  res.Exhausted,
		Descriptor: d,
	}
	if res.Matched {
		rec := settings.ToRecord(res.Rule)
		out.Rule = &rec
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
