package rules

import "github.com/pettai/capirca/internal/addrset"

// Op is the iptables command of a rendered statement.
type Op string

const (
	OpPolicy Op = "-P"
	OpChain  Op = "-N"
	OpAppend Op = "-A"
)

// Statement is one command line of a rendered iptables document.
type Statement struct {
	Line   int
	Family addrset.Family
	Op     Op
	Chain  string
	// Spec holds the rule specification of -A, or the target of -P.
	Spec []string
}

// Tables is the subset of go-iptables the engine drives.
type Tables interface {
	ChangePolicy(table, chain, target string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	ChainExists(table, chain string) (bool, error)
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

// Opener returns the tables of one address family.
type Opener func(addrset.Family) (Tables, error)
