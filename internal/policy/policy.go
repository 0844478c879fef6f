package policy

import (
	"fmt"
	"slices"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// Networks holds the source and destination chain allowlists. An empty list
// allows every chain.
type Networks struct {
	Source      []int64
	Destination []int64
}

// ParseNetworks resolves chain inputs (slugs, ids, CAIP-2) into chain ids.
func ParseNetworks(inputs []string) ([]int64, error) {
	out := make([]int64, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		chain, err := id.ParseChain(input)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, chain.EVMChainID) {
			out = append(out, chain.EVMChainID)
		}
	}
	return out, nil
}

// CheckChainAllowed rejects a transfer whose source or destination falls
// outside the configured allowlists.
func (n Networks) CheckChainAllowed(srcChainID, destChainID int64) error {
	if len(n.Source) > 0 && !slices.Contains(n.Source, srcChainID) {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("source chain %d is not in the allowed source networks", srcChainID))
	}
	if len(n.Destination) > 0 && !slices.Contains(n.Destination, destChainID) {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("destination chain %d is not in the allowed destination networks", destChainID))
	}
	return nil
}

// Chains lists the known chains annotated with their allowlist membership.
func (n Networks) Chains() []ChainEntry {
	known := id.KnownChains()
	out := make([]ChainEntry, 0, len(known))
	for _, chain := range known {
		out = append(out, ChainEntry{
			Chain:       chain,
			Source:      len(n.Source) == 0 || slices.Contains(n.Source, chain.EVMChainID),
			Destination: len(n.Destination) == 0 || slices.Contains(n.Destination, chain.EVMChainID),
		})
	}
	return out
}

type ChainEntry struct {
	Chain       id.Chain
	Source      bool
	Destination bool
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
