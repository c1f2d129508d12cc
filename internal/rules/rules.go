// Package rules applies rendered iptables documents to the host through
// go-iptables, and removes them again.
package rules

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/addrset"
)

const DEFAULT_TABLE = "filter"

// Parse splits a rendered iptables document into statements. The family of
// each statement follows the last "# inet" or "# inet6" banner line.
func Parse(doc string) ([]Statement, error) {
	var out []Statement
	family := addrset.IPv4
	scanner := bufio.NewScanner(strings.NewReader(doc))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if f, ok := aclgen.ParseFamily(strings.TrimSpace(strings.TrimPrefix(line, "#"))); ok {
				family = f
			}
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", n)
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("line %d: statement %q has no chain", n, line)
		}
		st := Statement{Line: n, Family: family, Op: Op(args[0]), Chain: args[1], Spec: args[2:]}
		switch st.Op {
		case OpPolicy:
			if len(st.Spec) != 1 {
				return nil, fmt.Errorf("line %d: policy statement needs one target", n)
			}
		case OpChain:
			if len(st.Spec) != 0 {
				return nil, fmt.Errorf("line %d: chain statement takes no arguments", n)
			}
		case OpAppend:
			if len(st.Spec) == 0 {
				return nil, fmt.Errorf("line %d: append statement has no rule", n)
			}
		default:
			return nil, fmt.Errorf("line %d: unsupported command %s", n, args[0])
		}
		out = append(out, st)
	}
	return out, scanner.Err()
}

// RulesEngine drives the host tables. In dry run mode it only logs what it
// would do.
type RulesEngine struct {
	open   Opener
	tables map[addrset.Family]Tables
	log    logrus.FieldLogger
	DryRun bool
}

func New(open Opener, log logrus.FieldLogger) *RulesEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RulesEngine{open: open, tables: map[addrset.Family]Tables{}, log: log}
}

func (r *RulesEngine) table(f addrset.Family) (Tables, error) {
	if t, ok := r.tables[f]; ok {
		return t, nil
	}
	t, err := r.open(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s tables: %v", aclgen.FamilyName(f), err)
	}
	r.tables[f] = t
	return t, nil
}

func (r *RulesEngine) logFor(st Statement) logrus.FieldLogger {
	return r.log.WithFields(logrus.Fields{"family": aclgen.FamilyName(st.Family), "chain": st.Chain, "line": st.Line})
}

// Apply sets the policies, creates or flushes the chains and appends the
// rules of doc, in document order.
func (r *RulesEngine) Apply(doc string) error {
	statements, err := Parse(doc)
	if err != nil {
		return err
	}
	for _, st := range statements {
		log := r.logFor(st)
		if r.DryRun {
			log.Infof("would run %s %s %s", st.Op, st.Chain, strings.Join(st.Spec, " "))
			continue
		}
		ipt, err := r.table(st.Family)
		if err != nil {
			return err
		}
		switch st.Op {
		case OpPolicy:
			err = ipt.ChangePolicy(DEFAULT_TABLE, st.Chain, st.Spec[0])
		case OpChain:
			err = ipt.ClearChain(DEFAULT_TABLE, st.Chain)
		case OpAppend:
			err = ipt.AppendUnique(DEFAULT_TABLE, st.Chain, st.Spec...)
		}
		if err != nil {
			return fmt.Errorf("failed to apply line %d: %v", st.Line, err)
		}
		log.Debugf("applied %s %s", st.Op, st.Chain)
	}
	return nil
}

// Revert removes the rules and chains of doc in reverse order. Default
// policies are left as they are.
func (r *RulesEngine) Revert(doc string) error {
	statements, err := Parse(doc)
	if err != nil {
		return err
	}
	for i := len(statements) - 1; i >= 0; i-- {
		st := statements[i]
		log := r.logFor(st)
		if st.Op == OpPolicy {
			log.Infof("leaving policy of %s as %s", st.Chain, st.Spec[0])
			continue
		}
		if r.DryRun {
			log.Infof("would revert %s %s %s", st.Op, st.Chain, strings.Join(st.Spec, " "))
			continue
		}
		ipt, err := r.table(st.Family)
		if err != nil {
			return err
		}
		switch st.Op {
		case OpChain:
			exists, err := ipt.ChainExists(DEFAULT_TABLE, st.Chain)
			if err != nil {
				return fmt.Errorf("failed to check chain %s: %v", st.Chain, err)
			}
			if !exists {
				continue
			}
			if err := ipt.ClearChain(DEFAULT_TABLE, st.Chain); err != nil {
				return fmt.Errorf("failed to flush chain %s: %v", st.Chain, err)
			}
			err = ipt.DeleteChain(DEFAULT_TABLE, st.Chain)
			if err != nil {
				return fmt.Errorf("failed to delete chain %s: %v", st.Chain, err)
			}
		case OpAppend:
			if err := ipt.DeleteIfExists(DEFAULT_TABLE, st.Chain, st.Spec...); err != nil {
				return fmt.Errorf("failed to delete line %d: %v", st.Line, err)
			}
		}
		log.Debugf("reverted %s %s", st.Op, st.Chain)
	}
	return nil
}
