//go:build !linux

package rules

import (
	"fmt"
	"runtime"

	"github.com/pettai/capirca/internal/addrset"
)

func OpenHost(f addrset.Family) (Tables, error) {
	return nil, fmt.Errorf("applying iptables rules is not supported on %s", runtime.GOOS)
}
