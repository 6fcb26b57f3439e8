// Command oomemsim-client drives the pipeline server (cmd/server) over HTTP:
// single issue/tick/stats calls, and six canned instruction sequences named
// after the memory disambiguation scenarios (see the scenario command's help
// for what each sequence does against a server whose registers are all 0).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oomemsim-client",
	Short: "Drive the oomemsim pipeline server through instructions and scenarios",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(issueCmd, tickCmd, statsCmd, scenarioCmd)
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a single instruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, _ := cmd.Flags().GetUint64("pc")
		kind, _ := cmd.Flags().GetString("kind")
		src0, _ := cmd.Flags().GetInt("src0")
		src1, _ := cmd.Flags().GetInt("src1")
		imm, _ := cmd.Flags().GetInt64("imm")
		dst, _ := cmd.Flags().GetInt("dst")
		dstValid, _ := cmd.Flags().GetBool("dst-valid")

		resp, err := issue(instr{PC: pc, Kind: kind, SrcRegs: []int{src0, src1}, Immediate: imm, DstReg: dst, DstRegValid: dstValid})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	issueCmd.Flags().Uint64("pc", 0x100, "program counter")
	issueCmd.Flags().String("kind", "ALU", "LOAD, STORE, ALU, BRANCH, or FENCE")
	issueCmd.Flags().Int("src0", 0, "first source register")
	issueCmd.Flags().Int("src1", 0, "second source register")
	issueCmd.Flags().Int64("imm", 0, "immediate")
	issueCmd.Flags().Int("dst", 0, "destination register")
	issueCmd.Flags().Bool("dst-valid", false, "whether dst is written")
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance the pipeline by one cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := postJSON(serverURL+"/tick", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print current pipeline statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := getJSON(serverURL+"/stats", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario [name]",
	Short: "Run a canned scenario against the server",
	Long: `Scenario names:
  independent-load-store   store and a non-overlapping load, no violation
  forwarding                load forwards from an earlier overlapping store
  violation-recovery        a load, then a younger store to the same address;
                            the store is younger, so no squash occurs
  fence                     a store, a full fence, then a load; the fence has
                            completed before the load is admitted
  mlp                       four loads issued one per cycle (0x1000, 0x2000,
                            0x3000, 0x1010); each completes before the next
                            executes, so the misses do not overlap
  bank-conflict             loads to 0x1000 and 0x1040 on different cycles;
                            with the server's default bank layout they map to
                            different banks and do not conflict`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, ok := scenarios[args[0]]
		if !ok {
			return fmt.Errorf("unknown scenario %q", args[0])
		}
		return scenario()
	},
}

type instr struct {
	PC                 uint64 `json:"pc"`
	Kind               string `json:"kind"`
	DstReg             int    `json:"dst_reg,omitempty"`
	DstRegValid        bool   `json:"dst_reg_valid,omitempty"`
	SrcRegs            []int  `json:"src_regs,omitempty"`
	Immediate          int64  `json:"immediate,omitempty"`
	FenceKind          string `json:"fence_kind,omitempty"`
	IsAtomic           bool   `json:"is_atomic,omitempty"`
	AtomicOp           string `json:"atomic_op,omitempty"`
	Expected           uint64 `json:"expected,omitempty"`
	ExpectedValid      bool   `json:"expected_valid,omitempty"`
	IsLoadLink         bool   `json:"is_load_link,omitempty"`
	IsStoreConditional bool   `json:"is_store_conditional,omitempty"`
}

func issue(i instr) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := postJSON(serverURL+"/issue", i, &out)
	return out, err
}

func tick() (map[string]interface{}, error) {
	var out map[string]interface{}
	err := postJSON(serverURL+"/tick", nil, &out)
	return out, err
}

// issueAccepted retries a stalled instruction, ticking a cycle between
// attempts, so scenarios don't silently lose instructions to back-pressure.
func issueAccepted(i instr) error {
	for attempt := 0; attempt < 8; attempt++ {
		out, err := issue(i)
		if err != nil {
			return err
		}
		if accepted, _ := out["accepted"].(bool); accepted {
			return nil
		}
		if _, err := tick(); err != nil {
			return err
		}
	}
	return fmt.Errorf("instruction at PC %#x never accepted", i.PC)
}

func ticks(n int) error {
	for i := 0; i < n; i++ {
		if _, err := tick(); err != nil {
			return err
		}
	}
	return nil
}

var scenarios = map[string]func() error{
	"independent-load-store": func() error {
		fmt.Println("=== Independent load/store ===")
		if err := issueAccepted(instr{PC: 0x100, Kind: "STORE", SrcRegs: []int{1, 2}, Immediate: 0}); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x104, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0x1000, DstReg: 3, DstRegValid: true}); err != nil {
			return err
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
	"forwarding": func() error {
		fmt.Println("=== Store-to-load forwarding ===")
		if err := issueAccepted(instr{PC: 0x200, Kind: "STORE", SrcRegs: []int{1, 2}, Immediate: 0}); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x204, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0, DstReg: 3, DstRegValid: true}); err != nil {
			return err
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
	"violation-recovery": func() error {
		fmt.Println("=== Violation and recovery ===")
		if err := issueAccepted(instr{PC: 0x304, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0, DstReg: 3, DstRegValid: true}); err != nil {
			return err
		}
		if err := ticks(1); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x300, Kind: "STORE", SrcRegs: []int{1, 2}, Immediate: 0}); err != nil {
			return err
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
	"fence": func() error {
		fmt.Println("=== Fence ===")
		if err := issueAccepted(instr{PC: 0x400, Kind: "STORE", SrcRegs: []int{1, 2}, Immediate: 0}); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x404, Kind: "FENCE", FenceKind: "FULL"}); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x408, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0x2000, DstReg: 3, DstRegValid: true}); err != nil {
			return err
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
	"mlp": func() error {
		fmt.Println("=== MLP (concurrent outstanding misses) ===")
		addrs := []int64{0x1000, 0x2000, 0x3000, 0x1010}
		for i, addr := range addrs {
			if err := issueAccepted(instr{PC: uint64(0x500 + i*4), Kind: "LOAD", SrcRegs: []int{1}, Immediate: addr, DstReg: 4, DstRegValid: true}); err != nil {
				return err
			}
			if err := ticks(1); err != nil {
				return err
			}
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
	"bank-conflict": func() error {
		fmt.Println("=== Bank conflict ===")
		if err := issueAccepted(instr{PC: 0x600, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0x1000, DstReg: 4, DstRegValid: true}); err != nil {
			return err
		}
		if err := issueAccepted(instr{PC: 0x604, Kind: "LOAD", SrcRegs: []int{1}, Immediate: 0x1040, DstReg: 5, DstRegValid: true}); err != nil {
			return err
		}
		if err := ticks(8); err != nil {
			return err
		}
		return printStats()
	},
}

func printStats() error {
	var out map[string]interface{}
	if err := getJSON(serverURL+"/stats", &out); err != nil {
		return err
	}
	printJSON(out)
	return nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	resp, err := httpClient.Post(url, "application/json", reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
