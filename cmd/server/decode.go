package main

import (
	"fmt"
	"strings"

	"github.com/rishav/oomemsim/internal/ordering"
	"github.com/rishav/oomemsim/internal/pipeline"
)

func parseKind(s string) (pipeline.Kind, error) {
	switch strings.ToUpper(s) {
	case "LOAD":
		return pipeline.Load, nil
	case "STORE":
		return pipeline.Store, nil
	case "ALU":
		return pipeline.ALU, nil
	case "BRANCH":
		return pipeline.Branch, nil
	case "FENCE":
		return pipeline.Fence, nil
	default:
		return 0, fmt.Errorf("unknown instruction kind %q", s)
	}
}

func parseFenceKind(s string) (ordering.FenceKind, error) {
	switch strings.ToUpper(s) {
	case "LOAD":
		return ordering.LoadFence, nil
	case "STORE":
		return ordering.StoreFence, nil
	case "FULL":
		return ordering.FullFence, nil
	default:
		return 0, fmt.Errorf("unknown fence kind %q", s)
	}
}

func parseAtomicKind(s string) (ordering.AtomicKind, error) {
	switch strings.ToUpper(s) {
	case "SWAP":
		return ordering.Swap, nil
	case "CAS", "COMPAREANDSWAP":
		return ordering.CompareAndSwap, nil
	case "FADD", "FETCHANDADD":
		return ordering.FetchAndAdd, nil
	default:
		return 0, fmt.Errorf("unknown atomic op %q", s)
	}
}
